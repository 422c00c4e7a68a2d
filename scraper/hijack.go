package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps profile resource names to rod protocol types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"image":      proto.NetworkResourceTypeImage,
	"stylesheet": proto.NetworkResourceTypeStylesheet,
	"font":       proto.NetworkResourceTypeFont,
	"media":      proto.NetworkResourceTypeMedia,
	"script":     proto.NetworkResourceTypeScript,
}

// adDomains are ad and tracking hosts dropped whenever a profile blocks
// resources.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"connect.facebook.net":  {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"consensu.org":          {},
}

// isAdDomain checks if a hostname or any parent domain is in the blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	for {
		if _, ok := adDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

// setupHijack installs a request interceptor that fails requests for the
// blocked resource types and, optionally, known ad hosts. It returns nil
// when there is nothing to block; otherwise the caller must Stop the router.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[strings.ToLower(name)]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 && !blockAds {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, ok := blocked[ctx.Request.Type()]; ok {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockAds {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil && isAdDomain(u.Hostname()) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()

	return router
}
