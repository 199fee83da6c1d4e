package pdp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is the extractable surface of a rendered product page: the parsed
// DOM plus whatever structured data blocks the page embeds. It is owned
// transiently by the extraction call and discarded after flattening.
type Snapshot struct {
	URL      string
	doc      *goquery.Document
	jsonLD   map[string]interface{}
	nextData map[string]interface{}
}

// NewSnapshot parses the supplied HTML into a Snapshot. The structured data
// sections (JSON-LD, Next.js __NEXT_DATA__) are decoded eagerly so extraction
// strategies can treat them as plain maps; a page without them simply yields
// empty maps and the DOM fallbacks take over.
func NewSnapshot(pageURL, html string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	s := &Snapshot{
		URL:      pageURL,
		doc:      doc,
		jsonLD:   map[string]interface{}{},
		nextData: map[string]interface{}{},
	}
	s.mergeJSONLD()
	s.parseNextData()
	return s, nil
}

// mergeJSONLD folds every ld+json script block into a single map. Later
// blocks win on key conflicts, matching how most PDPs emit one product block
// plus unrelated breadcrumb/organization blocks.
func (s *Snapshot) mergeJSONLD() {
	s.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		txt := strings.TrimSpace(sel.Text())
		if txt == "" {
			return
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(txt), &decoded); err != nil {
			return
		}
		switch v := decoded.(type) {
		case map[string]interface{}:
			for k, val := range v {
				s.jsonLD[k] = val
			}
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					for k, val := range m {
						s.jsonLD[k] = val
					}
				}
			}
		}
	})
}

func (s *Snapshot) parseNextData() {
	txt := strings.TrimSpace(s.doc.Find("script#__NEXT_DATA__").First().Text())
	if txt == "" {
		return
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(txt), &decoded); err != nil {
		return
	}
	s.nextData = decoded
}

// nextProduct returns the product object from __NEXT_DATA__, handling
// deployments that embed it as a JSON string rather than an object.
func (s *Snapshot) nextProduct() map[string]interface{} {
	props, ok := s.nextData["props"].(map[string]interface{})
	if !ok {
		return nil
	}
	pageProps, ok := props["pageProps"].(map[string]interface{})
	if !ok {
		return nil
	}
	switch raw := pageProps["product"].(type) {
	case map[string]interface{}:
		return raw
	case string:
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil
		}
		return decoded
	}
	return nil
}

// absoluteURL resolves a possibly scheme- or host-relative asset URL against
// the snapshot's page URL.
func (s *Snapshot) absoluteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base, err := url.Parse(s.URL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
