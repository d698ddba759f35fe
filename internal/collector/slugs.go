package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/directus"
	"github.com/agentworkforce/contentmirror/internal/slug"
)

// resolveSlug fills a missing or empty slug and persists it upstream before
// the record is rendered. The slug comes from the title, or from the record
// id when the title has nothing to transliterate. It reports whether an
// update was sent.
func (s *Syncer) resolveSlug(ctx context.Context, client Client, rec *directus.Record, m config.MappingConfig) (bool, error) {
	field := m.Frontmatter.Slug
	if field == "" {
		return false, nil
	}
	if current, _ := rec.Field(field); strings.TrimSpace(current) != "" {
		return false, nil
	}
	title, _ := rec.Field(m.Frontmatter.Title)
	derived := slug.Make(title)
	if derived == "" {
		derived = slug.Make(rec.ID)
		if derived == "" {
			return false, fmt.Errorf("collection %s record %q: no slug can be derived from title or id", m.Collection, rec.ID)
		}
		s.logf("collection %s record %s: title %q yields no slug, using %q", m.Collection, rec.ID, title, derived)
	}
	rec.SetField(field, derived)
	if err := client.UpdateItem(ctx, m.Collection, rec.ID, map[string]any{field: derived}); err != nil {
		return false, &TransportError{Op: "update slug", Collection: m.Collection, Err: err}
	}
	return true, nil
}
