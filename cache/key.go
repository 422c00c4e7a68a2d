package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/use-agent/scrapeflow/models"
)

// Key derives the cache key for req. An explicit CacheKey is used
// verbatim; otherwise the key is the normalized URL joined with a digest
// of everything that changes the extracted output.
func Key(req *models.ScrapeRequest) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	return NormalizeURL(req.URL) + ":" + configDigest(req)
}

// NormalizeURL lowercases scheme and host, drops default ports and the
// fragment, and sorts query parameters. Unparseable input is returned
// unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		// Encode sorts by key.
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func configDigest(req *models.ScrapeRequest) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0x1f})
	}

	field("sel:" + strconv.Itoa(len(req.Selectors)))
	for _, s := range req.Selectors {
		kind := s.Kind
		if kind == "" {
			kind = models.SelectorCSS
		}
		field(s.Name)
		field(string(kind))
		field(s.Selector)
		field(s.Attribute)
	}

	if ai := req.AIExtraction; !ai.IsEmpty() {
		field("ai")
		field(strconv.FormatBool(ai.Entities))
		field(strconv.FormatBool(ai.Sentiment))
		field(strconv.FormatBool(ai.Keywords))
		field(strconv.FormatBool(ai.Summary))
		field(ai.CustomPrompt)
	} else {
		field("noai")
	}

	field(strconv.FormatBool(req.ExtractStructuredData))
	field(strconv.FormatBool(req.ExtractLinks))
	field(strconv.FormatBool(req.ExtractImages))
	field(strconv.FormatBool(req.ExtractText))

	tier := req.Tier
	if tier == "" {
		tier = models.TierAdvanced
	}
	field(string(tier))

	return hex.EncodeToString(h.Sum(nil))
}
