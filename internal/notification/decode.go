package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	collectionSchemaURL = "https://beacon.local/schemas/notification-collection.json"
	elementSchemaURL    = "https://beacon.local/schemas/notification.json"
)

const collectionSchema = `{
  "type": "object",
  "required": ["_embedded"],
  "properties": {
    "_embedded": {
      "type": "object",
      "required": ["elements"],
      "properties": {
        "elements": {"type": "array"}
      }
    }
  }
}`

const elementSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "integer"},
    "reason": {"type": "string"},
    "readIAN": {"type": ["boolean", "null"]},
    "_links": {"type": "object"},
    "_embedded": {"type": "object"}
  }
}`

var schemas = sync.OnceValues(func() (*schemaSet, error) {
	c := jsonschema.NewCompiler()
	for u, src := range map[string]string{
		collectionSchemaURL: collectionSchema,
		elementSchemaURL:    elementSchema,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", u, err)
		}
		if err := c.AddResource(u, doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", u, err)
		}
	}

	collection, err := c.Compile(collectionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling collection schema: %w", err)
	}
	element, err := c.Compile(elementSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling element schema: %w", err)
	}
	return &schemaSet{collection: collection, element: element}, nil
})

type schemaSet struct {
	collection *jsonschema.Schema
	element    *jsonschema.Schema
}

type wireLink struct {
	Href  string `json:"href"`
	Title string `json:"title"`
}

type wireResource struct {
	Type    string          `json:"_type"`
	ID      json.RawMessage `json:"id"`
	Subject string          `json:"subject"`
	Name    string          `json:"name"`
}

type wireElement struct {
	ID        int64      `json:"id"`
	Reason    string     `json:"reason"`
	ReadIAN   *bool      `json:"readIAN"`
	Message   string     `json:"message"`
	CreatedAt *time.Time `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
	Links     struct {
		ReadIAN   *wireLink `json:"readIAN"`
		UnreadIAN *wireLink `json:"unreadIAN"`
		Resource  *wireLink `json:"resource"`
		Project   *wireLink `json:"project"`
	} `json:"_links"`
	Embedded struct {
		Resource *wireResource `json:"resource"`
	} `json:"_embedded"`
}

// Decode validates a notification collection body and maps its elements.
// A malformed collection returns a FetchError of KindDecode; a malformed
// element is skipped and logged.
func Decode(body []byte) ([]Record, error) {
	set, err := schemas()
	if err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: err}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: fmt.Errorf("parsing body: %w", err)}
	}
	if err := set.collection.Validate(inst); err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: err}
	}

	var doc struct {
		Embedded struct {
			Elements []json.RawMessage `json:"elements"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: err}
	}

	records := make([]Record, 0, len(doc.Embedded.Elements))
	seen := make(map[int64]struct{}, len(doc.Embedded.Elements))
	for i, raw := range doc.Embedded.Elements {
		rec, err := decodeElement(set.element, raw)
		if err != nil {
			slog.Debug("skipping notification element", "index", i, "error", err)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			slog.Debug("skipping duplicate notification", "notification_id", rec.ID)
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}

	return records, nil
}

func decodeElement(schema *jsonschema.Schema, raw json.RawMessage) (Record, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Record{}, err
	}
	if err := schema.Validate(inst); err != nil {
		return Record{}, err
	}

	var el wireElement
	if err := json.Unmarshal(raw, &el); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:       el.ID,
		Reason:   ParseReason(el.Reason),
		Read:     el.ReadIAN != nil && *el.ReadIAN,
		Message:  el.Message,
		Resource: resourceOf(el),
	}
	if el.CreatedAt != nil {
		rec.CreatedAt = *el.CreatedAt
	}
	if el.UpdatedAt != nil {
		rec.UpdatedAt = *el.UpdatedAt
	}
	if l := el.Links.ReadIAN; l != nil {
		rec.Links.ReadHref = l.Href
	}
	if l := el.Links.UnreadIAN; l != nil {
		rec.Links.UnreadHref = l.Href
	}
	if l := el.Links.Resource; l != nil {
		rec.Links.ResourceHref = l.Href
		if rec.Message == "" {
			rec.Message = l.Title
		}
	}
	if l := el.Links.Project; l != nil {
		rec.Links.ProjectHref = l.Href
	}

	return rec, nil
}

// resourceOf prefers the embedded resource and falls back to the resource
// link, whose path is ".../<collection>/<id>".
func resourceOf(el wireElement) *Resource {
	var res Resource

	if emb := el.Embedded.Resource; emb != nil {
		res.Type = emb.Type
		res.ID = rawID(emb.ID)
		res.Name = emb.Subject
		if res.Name == "" {
			res.Name = emb.Name
		}
	}

	if l := el.Links.Resource; l != nil && l.Href != "" {
		kind, id := splitHref(l.Href)
		if res.Type == "" {
			res.Type = kind
		}
		if res.ID == "" {
			res.ID = id
		}
		if res.Name == "" {
			res.Name = l.Title
		}
	}

	if res.Type == "" && res.ID == "" {
		return nil
	}
	return &res
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func splitHref(href string) (kind, id string) {
	u, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	id = path.Base(p)
	kind = path.Base(path.Dir(p))
	if kind == "." || kind == "/" {
		kind = ""
	}
	if id == "." || id == "/" {
		id = ""
	}
	return kind, id
}
