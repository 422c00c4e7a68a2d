// Package profile maps a speed tier to a canned fetch and extraction
// profile. Everything here is a pure function of its inputs.
package profile

import (
	"slices"
	"time"

	"github.com/use-agent/scrapeflow/models"
)

// WaitStrategy is the page readiness condition a browser engine waits for.
type WaitStrategy string

const (
	WaitLoad        WaitStrategy = "load"
	WaitDOMStable   WaitStrategy = "domstable"
	WaitNetworkIdle WaitStrategy = "networkidle"
)

// FetchProfile bundles the fetch parameters and the extraction switches
// for one tier.
type FetchProfile struct {
	Tier models.Tier

	// Timeout bounds a single fetch attempt.
	Timeout time.Duration

	Wait WaitStrategy

	// SettleDelay is an extra pause after the wait condition is met.
	SettleDelay time.Duration

	RemoveOverlays bool

	// BlockResources lists resource types the browser should not load
	// ("image", "media", "font", "stylesheet").
	BlockResources []string

	// PreferHTTP starts with the plain HTTP engine before any browser.
	PreferHTTP bool

	AllowAI        bool
	AllowSelectors bool
	AllowImages    bool

	// Defaults run when the request enables none of the generic
	// categories (structured data, links, images, text). Advanced has
	// none: it runs only what was asked for, and Effective hands a
	// request that asked for nothing to the simple profile.
	Defaults []models.Category
}

var genericDefaults = []models.Category{
	models.CategoryStructuredData,
	models.CategoryLinks,
	models.CategoryImages,
	models.CategoryText,
}

// Resolve returns the profile for tier. Unknown or empty tiers resolve to
// advanced.
func Resolve(tier models.Tier) FetchProfile {
	switch tier {
	case models.TierFast:
		return FetchProfile{
			Tier:           models.TierFast,
			Timeout:        30 * time.Second,
			Wait:           WaitLoad,
			SettleDelay:    500 * time.Millisecond,
			RemoveOverlays: true,
			BlockResources: []string{"image", "media", "font"},
			PreferHTTP:     true,
			Defaults:       []models.Category{models.CategoryText},
		}
	case models.TierSimple:
		return FetchProfile{
			Tier:           models.TierSimple,
			Timeout:        45 * time.Second,
			Wait:           WaitDOMStable,
			SettleDelay:    time.Second,
			RemoveOverlays: true,
			BlockResources: []string{"media", "font"},
			PreferHTTP:     true,
			AllowImages:    true,
			Defaults:       genericDefaults,
		}
	default:
		return FetchProfile{
			Tier:           models.TierAdvanced,
			Timeout:        60 * time.Second,
			Wait:           WaitNetworkIdle,
			SettleDelay:    2 * time.Second,
			RemoveOverlays: true,
			AllowAI:        true,
			AllowSelectors: true,
			AllowImages:    true,
		}
	}
}

// Effective returns the profile that actually serves req. An advanced
// request that asks for neither selectors nor AI is served by the simple
// profile rather than failing for lack of work.
func (p FetchProfile) Effective(req *models.ScrapeRequest) FetchProfile {
	if p.Tier == models.TierAdvanced && len(req.Selectors) == 0 && req.AIExtraction.IsEmpty() {
		return Resolve(models.TierSimple)
	}
	return p
}

// Plan returns the categories to run for req under p, in dispatch order.
func (p FetchProfile) Plan(req *models.ScrapeRequest) []models.Category {
	p = p.Effective(req)

	want := map[models.Category]bool{
		models.CategorySelectors:      p.AllowSelectors && len(req.Selectors) > 0,
		models.CategoryStructuredData: req.ExtractStructuredData,
		models.CategoryLinks:          req.ExtractLinks,
		models.CategoryImages:         req.ExtractImages,
		models.CategoryText:           req.ExtractText,
		models.CategoryAI:             p.AllowAI && !req.AIExtraction.IsEmpty(),
	}
	if !req.ExtractStructuredData && !req.ExtractLinks && !req.ExtractImages && !req.ExtractText {
		for _, c := range p.Defaults {
			want[c] = true
		}
	}
	if !p.AllowImages {
		want[models.CategoryImages] = false
	}

	var plan []models.Category
	for _, c := range models.AllCategories {
		if want[c] {
			plan = append(plan, c)
		}
	}
	return plan
}

// Blocks reports whether resource type t is blocked under p.
func (p FetchProfile) Blocks(t string) bool {
	return slices.Contains(p.BlockResources, t)
}
