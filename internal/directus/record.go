package directus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	StatusPublished = "published"
	StatusPreview   = "preview"
	StatusDraft     = "draft"
)

// Record is one item of a collection as returned by the items endpoint.
// Fields holds every top-level key except translations, which are decoded
// into Translations in upstream order.
type Record struct {
	ID           string
	Status       string
	HasStatus    bool
	Fields       map[string]any
	Translations []Translation
}

// Translation is a localized variant of a record's fields.
type Translation struct {
	LanguageCode string
	Fields       map[string]any
}

func (r *Record) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	id, ok := raw["id"]
	if !ok || id == nil {
		return fmt.Errorf("record is missing id")
	}
	rec := Record{
		ID:     FormatValue(id),
		Fields: raw,
	}
	if status, ok := raw["status"]; ok {
		rec.HasStatus = true
		rec.Status = FormatValue(status)
	}
	if translations, ok := raw["translations"]; ok {
		delete(raw, "translations")
		items, _ := translations.([]any)
		for _, item := range items {
			fields, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec.Translations = append(rec.Translations, Translation{
				LanguageCode: languageCode(fields["languages_code"]),
				Fields:       fields,
			})
		}
	}
	*r = rec
	return nil
}

// Field returns the scalar rendering of a field and whether the key is set to
// a non-null value.
func (r Record) Field(name string) (string, bool) {
	return fieldValue(r.Fields, name)
}

func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

func (t Translation) Field(name string) (string, bool) {
	return fieldValue(t.Fields, name)
}

// FormatValue renders a decoded JSON value the way it is embedded in a
// generated document: numbers verbatim, booleans as 1 or empty, null as empty,
// and composite values as compact JSON.
func FormatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	}
}

func fieldValue(fields map[string]any, name string) (string, bool) {
	if name == "" || fields == nil {
		return "", false
	}
	v, ok := fields[name]
	if !ok || v == nil {
		return "", false
	}
	return FormatValue(v), true
}

// languageCode accepts either a plain code or the expanded languages relation
// ({"code": "de-DE", ...}).
func languageCode(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		if code, ok := typed["code"]; ok {
			return strings.TrimSpace(FormatValue(code))
		}
	}
	return ""
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return raw, nil
}
