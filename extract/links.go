package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/scrapeflow/models"
)

// extractLinks collects absolute, deduplicated http(s) anchors and splits
// them by whether their host matches the page host.
func extractLinks(doc *goquery.Document, baseURL string) (models.LinksResult, error) {
	result := models.LinksResult{
		Internal: []models.Link{},
		External: []models.Link{},
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return result, fmt.Errorf("parse base url: %w", err)
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		// javascript:, mailto:, tel: and friends.
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		abs := resolved.String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}

		link := models.Link{Href: abs, Text: collapseSpace(s.Text())}
		if strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			result.Internal = append(result.Internal, link)
		} else {
			result.External = append(result.External, link)
		}
	})

	return result, nil
}

// extractImages returns absolute, deduplicated image sources. Inline data
// URIs are skipped.
func extractImages(doc *goquery.Document, baseURL string) ([]models.Image, error) {
	images := []models.Image{}

	base, err := url.Parse(baseURL)
	if err != nil {
		return images, fmt.Errorf("parse base url: %w", err)
	}

	seen := make(map[string]struct{})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}

		resolved, err := base.Parse(src)
		if err != nil || resolved.Scheme == "data" {
			return
		}

		abs := resolved.String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}

		images = append(images, models.Image{
			Src: abs,
			Alt: strings.TrimSpace(s.AttrOr("alt", "")),
		})
	})

	return images, nil
}
