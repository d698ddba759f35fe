package frontmatter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/directus"
)

func record(t *testing.T, raw string) directus.Record {
	t.Helper()
	var rec directus.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func pagesMapping() config.MappingConfig {
	return config.MappingConfig{
		Collection: "pages",
		Path:       "user/pages/03.pages",
		Depth:      2,
		Filename:   "default",
		Frontmatter: config.FrontmatterFields{
			Title: "title",
			Slug:  "slug",
			Sort:  "sort",
		},
	}
}

func TestDraftProducesRedirectStub(t *testing.T) {
	g := NewGenerator(Env{RedirectRoute: "/gone"})
	doc := g.ForRecord(record(t, `{"id":7,"status":"draft","title":"Secret"}`), pagesMapping())

	require.Equal(t, KindRedirect, doc.Kind)
	assert.Equal(t, "---\nredirect: '/gone'\nsitemap:\n    ignore: true\npublished: false\n---\n", string(doc.Content))
	assert.NotContains(t, string(doc.Content), "directus:")
	assert.NotContains(t, string(doc.Content), "flex:")
}

func TestStatusRouting(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		preview bool
		want    Kind
	}{
		{"published", `"status":"published",`, false, KindFull},
		{"draft", `"status":"draft",`, true, KindRedirect},
		{"preview outside preview env", `"status":"preview",`, false, KindRedirect},
		{"preview inside preview env", `"status":"preview",`, true, KindFull},
		{"archived", `"status":"archived",`, false, KindNone},
		{"null status", `"status":null,`, false, KindNone},
		{"no status key", ``, false, KindFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGenerator(Env{Preview: tc.preview, RedirectRoute: "/404"})
			rec := record(t, `{"id":1,`+tc.status+`"title":"T","slug":"t","sort":1}`)
			doc := g.ForRecord(rec, pagesMapping())
			assert.Equal(t, tc.want, doc.Kind)
			if tc.want == KindNone {
				assert.Empty(t, doc.Content)
			}
		})
	}
}

func TestFullDocumentLayout(t *testing.T) {
	g := NewGenerator(Env{})
	rec := record(t, `{"id":12,"status":"published","title":"Tom's \"Café\" & more","slug":"toms-cafe","sort":4}`)
	doc := g.ForRecord(rec, pagesMapping())

	want := "---\n" +
		"title: 'Tom&#039;s &quot;Caf&eacute;&quot; &amp; more'\n" +
		"sort: 4\n" +
		"slug: toms-cafe\n" +
		"directus:\n" +
		"    collection: pages\n" +
		"    depth: 2\n" +
		"    id: 12\n" +
		"---"
	assert.Equal(t, want, string(doc.Content))
}

func TestFlexDocumentWithDateAndTaxonomy(t *testing.T) {
	g := NewGenerator(Env{Location: time.FixedZone("CET", 3600)})
	m := config.MappingConfig{
		Collection: "articles",
		Depth:      1,
		Frontmatter: config.FrontmatterFields{
			Title:    "headline",
			Slug:     "slug",
			Date:     "published_on",
			Category: "category",
			Flex:     true,
		},
	}
	rec := record(t, `{"id":"a1","headline":"Über uns","slug":"ueber-uns","published_on":"2024-03-05T09:30:00Z","category":"news"}`)
	doc := g.ForRecord(rec, m)

	want := "---\n" +
		"title: '&Uuml;ber uns'\n" +
		"slug: ueber-uns\n" +
		"date: '05-03-2024 10:30'\n" +
		"taxonomy:\n" +
		"    category:\n" +
		"        - news\n" +
		"flex:\n" +
		"  - collection: articles\n" +
		"    id: a1\n" +
		"---"
	assert.Equal(t, want, string(doc.Content))
}

func TestUnparseableDateIsOmitted(t *testing.T) {
	g := NewGenerator(Env{Location: time.UTC})
	m := pagesMapping()
	m.Frontmatter.Sort = ""
	m.Frontmatter.Date = "date"
	rec := record(t, `{"id":3,"title":"T","slug":"t","date":null}`)
	assert.NotContains(t, string(g.ForRecord(rec, m).Content), "date:")

	rec = record(t, `{"id":3,"title":"T","slug":"t","date":"2023-12-31 23:59:00"}`)
	assert.Contains(t, string(g.ForRecord(rec, m).Content), "date: '31-12-2023 23:59'\n")
}

func TestTranslationOverridesTitleAndSlug(t *testing.T) {
	g := NewGenerator(Env{})
	rec := record(t, `{"id":5,"status":"published","title":"Haus","slug":"haus","sort":2,"translations":[
		{"languages_code":{"code":"en-US"},"title":"House","slug":"house"},
		{"languages_code":"fr-FR","title":"Maison","slug":null}
	]}`)
	m := pagesMapping()

	en := g.ForTranslation(rec, rec.Translations[0], m)
	assert.Contains(t, string(en.Content), "title: 'House'\nsort: 2\nslug: house\n")

	fr := g.ForTranslation(rec, rec.Translations[1], m)
	assert.Contains(t, string(fr.Content), "title: 'Maison'\nsort: 2\nslug: haus\n")
	assert.Contains(t, string(fr.Content), "    id: 5\n---")
}

func TestEscapeTitle(t *testing.T) {
	cases := map[string]string{
		"plain":                           "plain",
		"<b>bold</b>":                     "&lt;b&gt;bold&lt;/b&gt;",
		"Stra\u00dfe \u2013 5 \u20ac":     "Stra&szlig;e &ndash; 5 &euro;",
		"\u03a9mega \u00b11":              "&Omega;mega &plusmn;1",
		"\u201eZitat\u201c \u2026 \u2122": "&bdquo;Zitat&ldquo; &hellip; &trade;",
		"emoji \U0001F642 stays":          "emoji \U0001F642 stays",
		"it's":                            "it&#039;s",
		"\u00a0nbsp\u00ff":                "&nbsp;nbsp&yuml;",
	}
	for in, want := range cases {
		assert.Equal(t, want, EscapeTitle(in), "input %q", in)
	}
}

func TestParseRoundTripsGeneratedDocuments(t *testing.T) {
	g := NewGenerator(Env{RedirectRoute: "/gone"})
	rec := record(t, `{"id":9,"status":"published","title":"Hello","slug":"hello","sort":1}`)

	h, body, err := Parse(g.ForRecord(rec, pagesMapping()).Content)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, KindFull, h.Kind())
	assert.Equal(t, "Hello", h.Title)
	assert.Equal(t, "hello", h.Slug)
	require.NotNil(t, h.Directus)
	assert.Equal(t, "pages", h.Directus.Collection)
	assert.Equal(t, 2, h.Directus.Depth)
	assert.Equal(t, "9", h.Directus.ID)

	h, _, err = Parse(Redirect("/gone"))
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, h.Kind())
	assert.Equal(t, "/gone", h.Redirect)
}

func TestParseRejectsMissingFence(t *testing.T) {
	_, _, err := Parse([]byte("title: x\n"))
	assert.ErrorIs(t, err, ErrMissingFrontMatter)

	_, _, err = Parse([]byte("---\ntitle: x\n"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)
}
