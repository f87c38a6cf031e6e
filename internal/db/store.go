package db

import (
	"context"
	"database/sql"
	"fmt"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/portal"
	"sort"
	"strings"
	"time"
)

const (
	report_store_save           = "store.save"
	report_store_unknown_column = "store.unknown-column"
)

// DateLayout is how dates are stored, lexical order matches time order.
const DateLayout = "2006-01-02"

// Store persists harvested records and the run log.
type Store struct {
	db   *sql.DB
	time chrono.API
	tel  telemetry.API
}

func NewStore(database *sql.DB, time chrono.API, tel telemetry.API) Store {
	assert.NotNil(database)
	assert.NotNil(time)
	assert.NotNil(tel)
	return Store{
		db:   database,
		time: time,
		tel:  telemetry.NewScopedAPI("db", tel),
	}
}

func (s Store) DB() *sql.DB {
	return s.db
}

func storedValue(table Table, column string, value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return v.Format(DateLayout)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if table == Properties && column == "land_use_code" {
			return portal.ParseDigits(v)
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

type row struct {
	columns []string
	values  []any
}

func (s Store) toRow(table Table, info tableInfo, record portal.Record, now int64, dropped map[string]bool) (row, error) {
	values := map[string]any{}
	for name, value := range record {
		column := canonicalColumn(name)
		if !info.columns[column] {
			dropped[name] = true
			continue
		}
		values[column] = storedValue(table, column, value)
	}
	for _, k := range info.key {
		if values[k] == nil || values[k] == "" {
			return row{}, fmt.Errorf("%s record without %s", table, k)
		}
	}

	r := row{}
	for column := range values {
		r.columns = append(r.columns, column)
	}
	sort.Strings(r.columns)
	for _, column := range r.columns {
		r.values = append(r.values, values[column])
	}
	r.columns = append(r.columns, "updated_at")
	r.values = append(r.values, now)
	return r, nil
}

func upsertSql(table Table, info tableInfo, columns []string) string {
	isKey := map[string]bool{}
	for _, k := range info.key {
		isKey[k] = true
	}

	var updates []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf(
		"insert into %s (%s) values (%s) on conflict (%s) do update set %s",
		table,
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(info.key, ", "),
		strings.Join(updates, ", "),
	)
}

// Save upserts records into table keyed by parcel id (and line number for
// history tables). Field names go through the renaming table, fields the
// table has no column for are dropped.
func (s Store) Save(ctx context.Context, table Table, records []portal.Record) error {
	info, ok := tableInfos[table]
	if !ok {
		return fmt.Errorf("save: unknown table %q", table)
	}
	if len(records) == 0 {
		return nil
	}

	now := s.time.Now().Unix()
	dropped := map[string]bool{}
	parcels := map[string]bool{}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, record := range records {
			r, err := s.toRow(table, info, record, now, dropped)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, upsertSql(table, info, r.columns), r.values...)
			if err != nil {
				return err
			}
			parcels[record.Identifier()] = true
		}
		return nil
	})
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, string(table))
		return fmt.Errorf("save %s: %w", table, err)
	}

	for name := range dropped {
		s.tel.ReportWarning(report_store_unknown_column, string(table), name)
	}
	s.tel.ReportCount(fmt.Sprintf("%s.%s", report_store_save, table), int64(len(records)))
	s.tel.ReportDebug("saved records", string(table), len(records), len(parcels))
	return nil
}

// RecordsToComplete returns up to limit parcel ids greater than after that
// still need table's detail data, in ascending order.
func (s Store) RecordsToComplete(ctx context.Context, table Table, after string, limit int) ([]string, error) {
	info, ok := tableInfos[table]
	if !ok {
		return nil, fmt.Errorf("records to complete: unknown table %q", table)
	}
	if limit <= 0 {
		limit = portal.MaxPage
	}

	rows, err := s.db.QueryContext(ctx, info.pending, after, limit)
	if err != nil {
		return nil, fmt.Errorf("records to complete %s: %w", table, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		err := rows.Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, portal.NormalizeIdentifier(id))
	}
	return ids, rows.Err()
}
