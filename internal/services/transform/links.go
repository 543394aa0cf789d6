package transform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var bareURL = regexp.MustCompile(`https?://[^\s<>"'\]\[(){}]+`)

// ExtractURLs returns every absolute http(s) URL found in the given bodies,
// in first-seen order without duplicates. Bodies may be HTML (href and src
// attributes are read) or plain text.
func ExtractURLs(bodies ...string) []string {
	var found []string
	seen := make(map[string]bool)

	add := func(raw string) {
		candidate := strings.TrimRight(strings.TrimSpace(raw), ".,;:!?*_")
		u, err := url.Parse(candidate)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		if seen[candidate] {
			return
		}
		seen[candidate] = true
		found = append(found, candidate)
	}

	for _, body := range bodies {
		if strings.TrimSpace(body) == "" {
			continue
		}

		if strings.Contains(body, "<") {
			if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
				doc.Find("a[href], img[src], source[src], video[src], iframe[src]").Each(func(_ int, sel *goquery.Selection) {
					if href, ok := sel.Attr("href"); ok {
						add(href)
					}
					if src, ok := sel.Attr("src"); ok {
						add(src)
					}
				})
				body = doc.Text()
			}
		}

		for _, match := range bareURL.FindAllString(body, -1) {
			add(match)
		}
	}

	return found
}
