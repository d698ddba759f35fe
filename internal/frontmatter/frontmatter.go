// Package frontmatter renders the page headers written for mirrored records.
//
// Output is assembled byte by byte rather than through a YAML encoder: the
// site renderer and existing trees depend on the exact layout, including the
// missing newline after the closing fence of a full document.
package frontmatter

import (
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/directus"
)

type Kind int

const (
	// KindNone means the record produces no file and is left to the sweep.
	KindNone Kind = iota
	KindFull
	KindRedirect
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindRedirect:
		return "redirect"
	default:
		return "none"
	}
}

type Document struct {
	Kind    Kind
	Content []byte
}

// Env is the runtime context that affects which document a status maps to.
type Env struct {
	Preview       bool
	RedirectRoute string
	// Location is used to render dates; nil means time.Local.
	Location *time.Location
}

const DateLayout = "02-01-2006 15:04"

type Generator struct {
	env Env
}

func NewGenerator(env Env) *Generator {
	if env.Location == nil {
		env.Location = time.Local
	}
	return &Generator{env: env}
}

// ForRecord picks the document for a record by its status. Records without a
// status key always get a full document.
func (g *Generator) ForRecord(rec directus.Record, m config.MappingConfig) Document {
	if !rec.HasStatus {
		return Document{Kind: KindFull, Content: g.Full(rec, nil, m)}
	}
	switch rec.Status {
	case directus.StatusPublished:
		return Document{Kind: KindFull, Content: g.Full(rec, nil, m)}
	case directus.StatusPreview:
		if g.env.Preview {
			return Document{Kind: KindFull, Content: g.Full(rec, nil, m)}
		}
		return Document{Kind: KindRedirect, Content: Redirect(g.env.RedirectRoute)}
	case directus.StatusDraft:
		return Document{Kind: KindRedirect, Content: Redirect(g.env.RedirectRoute)}
	default:
		return Document{Kind: KindNone}
	}
}

// ForTranslation renders the full document of one translation. Title and
// slug come from the translation when it sets them.
func (g *Generator) ForTranslation(rec directus.Record, tr directus.Translation, m config.MappingConfig) Document {
	return Document{Kind: KindFull, Content: g.Full(rec, &tr, m)}
}

func (g *Generator) Full(rec directus.Record, tr *directus.Translation, m config.MappingConfig) []byte {
	cols := m.Frontmatter
	var b strings.Builder
	b.WriteString("---\n")

	title, _ := rec.Field(cols.Title)
	if tr != nil {
		if v, ok := tr.Field(cols.Title); ok {
			title = v
		}
	}
	b.WriteString("title: '")
	b.WriteString(EscapeTitle(title))
	b.WriteString("'\n")

	if cols.Sort != "" {
		sort, _ := rec.Field(cols.Sort)
		b.WriteString("sort: ")
		b.WriteString(sort)
		b.WriteByte('\n')
	}

	slug, _ := rec.Field(cols.Slug)
	if tr != nil {
		if v, ok := tr.Field(cols.Slug); ok {
			slug = v
		}
	}
	b.WriteString("slug: ")
	b.WriteString(slug)
	b.WriteByte('\n')

	if cols.Date != "" {
		raw, _ := rec.Field(cols.Date)
		if ts, ok := ParseDate(raw, g.env.Location); ok {
			b.WriteString("date: '")
			b.WriteString(ts.Format(DateLayout))
			b.WriteString("'\n")
		}
	}

	if category, ok := rec.Field(cols.Category); ok {
		b.WriteString("taxonomy:\n    category:\n        - ")
		b.WriteString(category)
		b.WriteByte('\n')
	}

	if cols.Flex {
		b.WriteString("flex:\n  - collection: ")
		b.WriteString(m.Collection)
		b.WriteString("\n    id: ")
		b.WriteString(rec.ID)
		b.WriteString("\n---")
		return []byte(b.String())
	}
	b.WriteString("directus:\n    collection: ")
	b.WriteString(m.Collection)
	b.WriteString("\n    depth: ")
	b.WriteString(strconv.Itoa(m.Depth))
	b.WriteString("\n    id: ")
	b.WriteString(rec.ID)
	b.WriteString("\n---")
	return []byte(b.String())
}

// Redirect is the stub written in place of unpublished records.
func Redirect(route string) []byte {
	return []byte("---\nredirect: '" + route + "'\nsitemap:\n    ignore: true\npublished: false\n---\n")
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate accepts the datetime shapes Directus emits. Values with an offset
// are converted to loc; values without one are read in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		ts, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return ts.In(loc), true
		}
	}
	return time.Time{}, false
}
