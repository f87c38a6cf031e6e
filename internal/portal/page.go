package portal

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

type pageKind int

const (
	pageUnknown pageKind = iota
	pageList
	pageProfile
	pageConsent
	pageError
)

func (k pageKind) String() string {
	switch k {
	case pageList:
		return "list"
	case pageProfile:
		return "profile"
	case pageConsent:
		return "consent"
	case pageError:
		return "error"
	default:
		return "unknown"
	}
}

type page struct {
	url  *url.URL
	body []byte
	doc  *goquery.Document
	// discriminator is the lowercased filename of the final (post-redirect) url
	discriminator string
	kind          pageKind
}

func newPage(res *resty.Response) (*page, error) {
	if res.IsError() {
		return nil, &ProtocolError{
			Discriminator: fmt.Sprintf("http %d", res.StatusCode()),
			Reason:        "unexpected response status",
		}
	}

	finalUrl, err := url.Parse(res.Request.URL)
	if err != nil {
		return nil, transportError("parse request url", err)
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, &ProtocolError{
			Discriminator: discriminatorOf(finalUrl),
			Reason:        "parse html",
			Err:           err,
		}
	}

	p := &page{
		url:           finalUrl,
		body:          res.Body(),
		doc:           doc,
		discriminator: discriminatorOf(finalUrl),
	}
	p.kind = classify(p)
	return p, nil
}

func discriminatorOf(u *url.URL) string {
	return strings.ToLower(path.Base(u.Path))
}

// classify decides the page shape. A consent form wins over the filename
// because the portal serves the disclaimer under whatever url was requested
// when it silently drops a session.
func classify(p *page) pageKind {
	if _, ok := consentForm(p.doc); ok {
		return pageConsent
	}
	switch {
	case strings.HasPrefix(p.discriminator, "disclaimer"):
		return pageConsent
	case strings.HasPrefix(p.discriminator, "commonsearch"):
		return pageList
	case strings.HasPrefix(p.discriminator, "datalet"):
		return pageProfile
	case strings.HasPrefix(p.discriminator, "errors"):
		return pageError
	}
	return pageUnknown
}

// consentForm finds the disclaimer form and its accept control.
func consentForm(doc *goquery.Document) (form, bool) {
	sel := doc.Find(`form[name="Form1"]`).First()
	if sel.Length() == 0 {
		return form{}, false
	}
	button := sel.Find(`input[value="Agree"], button[value="Agree"]`).First()
	if button.Length() == 0 {
		return form{}, false
	}
	return form{sel: sel, submitter: button}, true
}

type form struct {
	sel       *goquery.Selection
	submitter *goquery.Selection
}

func findForm(doc *goquery.Document, name string) (form, bool) {
	sel := doc.Find(fmt.Sprintf(`form[name="%s"], form#%s`, name, name)).First()
	if sel.Length() == 0 {
		return form{}, false
	}
	return form{sel: sel}, true
}

// values serializes the form the way a browser would, hidden ASP.NET state included.
func (f form) values() url.Values {
	values := url.Values{}
	f.sel.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}
		switch goquery.NodeName(field) {
		case "select":
			option := field.Find("option[selected]").First()
			if option.Length() == 0 {
				option = field.Find("option").First()
			}
			if option.Length() == 0 {
				values.Add(name, "")
				return
			}
			value, ok := option.Attr("value")
			if !ok {
				value = option.Text()
			}
			values.Add(name, value)
		case "textarea":
			values.Add(name, field.Text())
		default:
			kind := strings.ToLower(field.AttrOr("type", "text"))
			switch kind {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := field.Attr("checked"); !checked {
					return
				}
				values.Add(name, field.AttrOr("value", "on"))
			default:
				values.Add(name, field.AttrOr("value", ""))
			}
		}
	})

	if f.submitter != nil {
		name, ok := f.submitter.Attr("name")
		if ok && name != "" {
			values.Set(name, f.submitter.AttrOr("value", ""))
		}
	}
	return values
}

// set assigns a value to the field with the given element id, the field is
// addressed by its name attribute in the serialized form.
func (f form) set(values url.Values, id, value string) error {
	field := f.sel.Find("#" + id).First()
	if field.Length() == 0 {
		return fmt.Errorf("form field #%s not found", id)
	}
	name := field.AttrOr("name", id)
	values.Set(name, value)
	return nil
}

func (f form) action(base *url.URL) (*url.URL, error) {
	action := f.sel.AttrOr("action", "")
	return base.Parse(action)
}
