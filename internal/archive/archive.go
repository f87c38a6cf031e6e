package archive

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/url"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/chrono"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("parcelharvest/archive")

var ErrPageNotFound = errors.New("archived page not found")

// Page is one raw portal page kept for later re-extraction.
type Page struct {
	Identifier string
	Url        string
	Contents   []byte
	FetchedAt  int64
	ExpiresAt  int64
}

// Archive keeps the raw html of visited profile and tab pages in badger,
// keyed by parcel id and normalized url.
type Archive struct {
	db   *badger.DB
	ttl  time.Duration
	time chrono.API
}

// Open opens the archive in dir, an empty dir keeps it in memory.
// A ttl of 0 keeps pages forever.
func Open(dir string, ttl time.Duration, time chrono.API) (*Archive, error) {
	assert.NotNil(time)

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Archive{db: db, ttl: ttl, time: time}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// normalize works on a copy, purell rewrites the url in place.
func normalize(pageUrl *url.URL) string {
	copied := *pageUrl
	return purell.NormalizeURL(
		&copied,
		purell.FlagsUsuallySafeGreedy|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
}

func key(identifier string, pageUrl *url.URL) []byte {
	return []byte(identifier + ":" + normalize(pageUrl))
}

func (a *Archive) Put(ctx context.Context, identifier string, pageUrl *url.URL, body []byte) error {
	_, span := tracer.Start(ctx, "archive:Put")
	defer span.End()

	k := key(identifier, pageUrl)
	span.SetAttributes(attribute.String("archive_key", string(k)))

	now := a.time.Now()
	page := Page{
		Identifier: identifier,
		Url:        normalize(pageUrl),
		Contents:   body,
		FetchedAt:  now.Unix(),
	}
	if a.ttl > 0 {
		page.ExpiresAt = now.Add(a.ttl).Unix()
	}

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize page")
		return err
	}

	err = a.db.Update(func(tx *badger.Txn) error {
		return tx.Set(k, serialized.Bytes())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}
	return nil
}

func (a *Archive) expired(p Page) bool {
	return p.ExpiresAt > 0 && a.time.Now().Unix() >= p.ExpiresAt
}

func decode(item *badger.Item) (Page, error) {
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		return Page{}, err
	}
	var p Page
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&p)
	return p, err
}

// Get returns the archived page, expired pages are deleted and reported as
// ErrPageNotFound.
func (a *Archive) Get(ctx context.Context, identifier string, pageUrl *url.URL) (Page, error) {
	_, span := tracer.Start(ctx, "archive:Get")
	defer span.End()

	k := key(identifier, pageUrl)
	span.SetAttributes(attribute.String("archive_key", string(k)))

	var page Page
	err := a.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(k)
		if err != nil {
			return err
		}
		page, err = decode(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Page{}, ErrPageNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read archived page")
		return Page{}, err
	}

	if a.expired(page) {
		span.AddEvent("delete expired page", trace.WithAttributes(
			attribute.String("key", string(k)),
		))
		err = a.db.Update(func(tx *badger.Txn) error {
			return tx.Delete(k)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete expired page")
		}
		return Page{}, ErrPageNotFound
	}
	return page, nil
}

// List returns every unexpired page archived for a parcel.
func (a *Archive) List(ctx context.Context, identifier string) ([]Page, error) {
	_, span := tracer.Start(ctx, "archive:List")
	defer span.End()

	prefix := []byte(identifier + ":")
	var pages []Page
	err := a.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			p, err := decode(it.Item())
			if err != nil {
				return err
			}
			if a.expired(p) {
				continue
			}
			pages = append(pages, p)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list archived pages")
		return nil, err
	}
	return pages, nil
}
