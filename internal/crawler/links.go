package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the absolute, fragment-stripped targets of every
// a[href] in body, resolved against base. Order follows the document and
// duplicates are dropped.
func ExtractLinks(base string, body []byte) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := baseURL.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = ref
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		ref.Fragment = ""
		ref.RawFragment = ""
		link := ref.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}
