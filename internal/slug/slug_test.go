package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Hello World", "hello-world"},
		{"  Über uns  ", "ueber-uns"},
		{"Straße & Plätze", "strasse-plaetze"},
		{"Crème brûlée!", "creme-brulee"},
		{"Ångström / Øresund", "angstroem-oresund"},
		{"already-a-slug", "already-a-slug"},
		{"2024: Year in Review", "2024-year-in-review"},
		{"---", ""},
		{"", ""},
		{"日本語", ""},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			assert.Equal(t, tc.want, Make(tc.title))
		})
	}
}

func TestASCIIKeepsPunctuation(t *testing.T) {
	assert.Equal(t, "Foehn, Koeln.", ASCII("Föhn, Köln."))
}
