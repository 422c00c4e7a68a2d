package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/scrapeflow/models"
)

func TestKey_ExplicitKeyVerbatim(t *testing.T) {
	req := &models.ScrapeRequest{URL: "https://example.com", CacheKey: "my-key", ExtractLinks: true}
	assert.Equal(t, "my-key", Key(req))
}

func TestKey_Deterministic(t *testing.T) {
	a := &models.ScrapeRequest{
		URL:          "https://example.com/page?b=2&a=1",
		Selectors:    []models.Selector{{Name: "title", Selector: "h1"}},
		ExtractLinks: true,
	}
	b := a.Clone()
	assert.Equal(t, Key(a), Key(b))
	assert.True(t, strings.HasPrefix(Key(a), "https://example.com/page?a=1&b=2:"))
}

func TestKey_ConfigChangesKey(t *testing.T) {
	base := &models.ScrapeRequest{URL: "https://example.com", ExtractLinks: true}

	variants := []func(r *models.ScrapeRequest){
		func(r *models.ScrapeRequest) { r.ExtractLinks = false },
		func(r *models.ScrapeRequest) { r.ExtractImages = true },
		func(r *models.ScrapeRequest) { r.ExtractText = true },
		func(r *models.ScrapeRequest) { r.ExtractStructuredData = true },
		func(r *models.ScrapeRequest) { r.Tier = models.TierFast },
		func(r *models.ScrapeRequest) { r.AIExtraction = &models.AIExtractionConfig{Summary: true} },
		func(r *models.ScrapeRequest) {
			r.Selectors = []models.Selector{{Name: "t", Selector: "h1"}}
		},
		func(r *models.ScrapeRequest) {
			r.Selectors = []models.Selector{{Name: "t", Selector: "//h1", Kind: models.SelectorXPath}}
		},
	}
	seen := map[string]bool{Key(base): true}
	for i, mutate := range variants {
		r := base.Clone()
		mutate(r)
		k := Key(r)
		assert.False(t, seen[k], "variant %d collided", i)
		seen[k] = true
	}
}

func TestKey_SelectorOrderMatters(t *testing.T) {
	a := &models.ScrapeRequest{URL: "https://x.io", Selectors: []models.Selector{
		{Name: "a", Selector: "h1"}, {Name: "b", Selector: "h2"},
	}}
	b := &models.ScrapeRequest{URL: "https://x.io", Selectors: []models.Selector{
		{Name: "b", Selector: "h2"}, {Name: "a", Selector: "h1"},
	}}
	assert.NotEqual(t, Key(a), Key(b))
}

func TestKey_DefaultsAreEquivalent(t *testing.T) {
	a := &models.ScrapeRequest{URL: "https://x.io", Selectors: []models.Selector{{Name: "a", Selector: "h1"}}}
	b := a.Clone()
	b.Defaults()
	// An empty AI config is the same as none.
	b.AIExtraction = &models.AIExtractionConfig{}
	assert.Equal(t, Key(a), Key(b))
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM":               "https://example.com/",
		"http://example.com:80/a":           "http://example.com/a",
		"https://example.com:443/a#frag":    "https://example.com/a",
		"https://example.com:8443/a":        "https://example.com:8443/a",
		"https://example.com/p?z=1&a=2&a=1": "https://example.com/p?a=2&a=1&z=1",
		"https://example.com/Path/Is/Kept":  "https://example.com/Path/Is/Kept",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}
