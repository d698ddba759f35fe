package frontmatter

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingFrontMatter   = errors.New("frontmatter: missing opening fence")
	ErrMalformedFrontMatter = errors.New("frontmatter: malformed header")
)

// Header is the decoded form of a generated document header.
type Header struct {
	Title     string         `yaml:"title"`
	Sort      any            `yaml:"sort,omitempty"`
	Slug      string         `yaml:"slug"`
	Date      string         `yaml:"date,omitempty"`
	Taxonomy  map[string]any `yaml:"taxonomy,omitempty"`
	Redirect  string         `yaml:"redirect,omitempty"`
	Sitemap   map[string]any `yaml:"sitemap,omitempty"`
	Published *bool          `yaml:"published,omitempty"`
	Flex      []struct {
		Collection string `yaml:"collection"`
		ID         string `yaml:"id"`
	} `yaml:"flex,omitempty"`
	Directus *struct {
		Collection string `yaml:"collection"`
		Depth      int    `yaml:"depth"`
		ID         string `yaml:"id"`
	} `yaml:"directus,omitempty"`
}

// Kind reports which kind of document the header came from.
func (h Header) Kind() Kind {
	switch {
	case h.Redirect != "" || (h.Published != nil && !*h.Published):
		return KindRedirect
	case h.Directus != nil || len(h.Flex) > 0:
		return KindFull
	default:
		return KindNone
	}
}

// Parse splits a document into its header and body. The closing fence may be
// the last bytes of the file.
func Parse(content []byte) (Header, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Header{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	var meta, body []byte
	switch {
	case bytes.HasSuffix(rest, []byte("\n---")):
		meta = rest[:len(rest)-4]
	default:
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			return Header{}, nil, ErrMalformedFrontMatter
		}
		meta, body = parts[0], parts[1]
	}
	var h Header
	if err := yaml.Unmarshal(meta, &h); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return h, body, nil
}
