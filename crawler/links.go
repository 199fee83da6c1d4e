package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"

	"outlet-watcher/internal/types"
)

var productPathRe = regexp.MustCompile(`/products?/`)

// looksLikeProductLink keeps PDP hrefs: '/shop/' paths plus generic product
// slugs some storefronts use.
func looksLikeProductLink(href string) bool {
	return strings.Contains(href, "/shop/") || productPathRe.MatchString(href)
}

// NormalizeProductLinks resolves raw hrefs against the page URL and keeps
// only same-host '/shop/' PDP URLs, sorted and unique.
func NormalizeProductLinks(hrefs []string, pageURL string) []string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := page.ResolveReference(ref)
		if abs.Host != page.Host {
			continue
		}
		if !strings.Contains(abs.Path, "/shop/") {
			continue
		}
		seen[abs.String()] = struct{}{}
	}
	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}

const collectHrefsJS = `Array.from(document.querySelectorAll('a[href]')).map(e => e.getAttribute('href'))`
const scrollToBottomJS = `window.scrollTo(0, document.body.scrollHeight)`

// collectProductLinks scrolls the category grid until the product anchor
// count stabilizes for three iterations, then returns normalized PDP URLs.
func (c *Crawler) collectProductLinks(pageCtx context.Context, pageURL string) ([]string, error) {
	var hrefs []string
	lastCount := -1
	stable := 0

	for i := 0; i < c.cfg.MaxScrolls; i++ {
		var raw []string
		if err := chromedp.Run(pageCtx, chromedp.Evaluate(collectHrefsJS, &raw)); err != nil {
			return nil, fmt.Errorf("failed to collect anchors: %w", err)
		}
		var productLinks []string
		for _, href := range raw {
			if looksLikeProductLink(href) {
				productLinks = append(productLinks, href)
			}
		}
		hrefs = productLinks

		count := len(NormalizeProductLinks(productLinks, pageURL))
		if count == lastCount {
			stable++
		} else {
			stable = 0
		}
		lastCount = count
		if stable >= 3 {
			break
		}

		if err := chromedp.Run(pageCtx, chromedp.Evaluate(scrollToBottomJS, nil)); err != nil {
			return nil, fmt.Errorf("failed to scroll grid: %w", err)
		}
		if err := c.jitterSleep(pageCtx, 300, 800); err != nil {
			return nil, err
		}
	}

	return NormalizeProductLinks(hrefs, pageURL), nil
}

// DiscoverLinksHTTP walks a category page over plain HTTP and returns its
// PDP links. Used when the headless browser is disabled; grids that only
// populate via infinite scroll will yield whatever the initial payload has.
func DiscoverLinksHTTP(cfg *types.Config, logger types.Logger, categoryURL string) ([]string, error) {
	parsed, err := url.Parse(categoryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid category URL: %w", err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)

	var hrefs []string
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if href := e.Attr("href"); looksLikeProductLink(href) {
			hrefs = append(hrefs, href)
		}
	})

	if err := collector.Visit(categoryURL); err != nil {
		return nil, fmt.Errorf("failed to visit category page: %w", err)
	}

	links := NormalizeProductLinks(hrefs, categoryURL)
	logger.Infof("Discovered %d product links over HTTP", len(links))
	return links, nil
}
