package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"outlet-watcher/alert"
	"outlet-watcher/internal/types"
	"outlet-watcher/pdp"
	"outlet-watcher/sink"
	"outlet-watcher/utils"
)

// Crawler drives the browser through a category and its PDPs, hands each
// rendered snapshot to the extraction core, and feeds the resulting rows to
// the sinks and the alert decider. All retry, politeness, and navigation
// concerns live here; the core never waits or retries.
type Crawler struct {
	cfg       *types.Config
	logger    types.Logger
	browser   *utils.BrowserClient
	http      *utils.HTTPClient
	extractor *pdp.Extractor
	flattener *pdp.Flattener
	csv       *sink.CSVSink
	store     *sink.Store
	decider   *alert.Decider
}

// New wires a crawler over the given collaborators. The decider may be nil
// when alerting is disabled.
func New(cfg *types.Config, logger types.Logger, browser *utils.BrowserClient, httpClient *utils.HTTPClient, csv *sink.CSVSink, store *sink.Store, decider *alert.Decider) *Crawler {
	return &Crawler{
		cfg:       cfg,
		logger:    logger,
		browser:   browser,
		http:      httpClient,
		extractor: pdp.NewExtractor(logger),
		flattener: pdp.NewFlattener(logger),
		csv:       csv,
		store:     store,
		decider:   decider,
	}
}

// Run crawls from startURL: a category URL is scrolled for PDP links, a
// '/shop/' URL is crawled as a single PDP. Page-level failures are logged
// and skipped; they never abort the run.
func (c *Crawler) Run(ctx context.Context, startURL string) error {
	locale := "ca-en"
	if strings.Contains(startURL, "/us/") {
		locale = "us-en"
	}

	runID, err := c.store.BeginRun(nowISO())
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.FinishRun(runID, nowISO()); err != nil {
			c.logger.Warnf("Failed to finish run %s: %v", runID, err)
		}
	}()

	if !c.cfg.UseHeadlessBrowser {
		return c.runHTTP(ctx, startURL, locale, runID)
	}

	pageCtx, cancel := c.browser.NewPageContext(ctx)
	defer cancel()

	c.logger.Infof("Navigating to start URL: %s", startURL)
	if err := c.browser.Navigate(pageCtx, startURL, c.cfg.PDPDelay); err != nil {
		return err
	}

	var productLinks []string
	if parsed, err := url.Parse(startURL); err == nil && strings.Contains(parsed.Path, "/shop/") {
		c.logger.Info("Single-PDP mode: crawling provided product only")
		productLinks = []string{startURL}
	} else {
		productLinks, err = c.collectProductLinks(pageCtx, startURL)
		if err != nil {
			return err
		}
		c.logger.Infof("Discovered %d product links", len(productLinks))
	}

	seen := map[string]struct{}{}
	for i, link := range productLinks {
		if i < c.cfg.StartAt {
			continue
		}
		if c.cfg.Limit > 0 && i >= c.cfg.Limit {
			break
		}
		c.logger.Infof("Visiting PDP %d/%d: %s", i+1, len(productLinks), link)

		if err := c.visitPDP(ctx, pageCtx, link, locale, runID, seen); err != nil {
			c.logger.Warnf("PDP visit failed for %s: %v", link, err)
		}

		if err := c.jitterDuration(pageCtx, c.cfg.JitterMin+400*time.Millisecond, c.cfg.JitterMax+1200*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// runHTTP crawls without a browser: link discovery and PDP fetches go over
// plain HTTP, so only server-rendered pages yield data and swatch clicking is
// unavailable; colors come from structured data alone. The HTTP client's
// rate limiter paces requests in place of the navigation jitter.
func (c *Crawler) runHTTP(ctx context.Context, startURL, locale, runID string) error {
	var productLinks []string
	if parsed, err := url.Parse(startURL); err == nil && strings.Contains(parsed.Path, "/shop/") {
		c.logger.Info("Single-PDP mode: crawling provided product only")
		productLinks = []string{startURL}
	} else {
		links, err := DiscoverLinksHTTP(c.cfg, c.logger, startURL)
		if err != nil {
			return err
		}
		productLinks = links
	}

	seen := map[string]struct{}{}
	for i, link := range productLinks {
		if i < c.cfg.StartAt {
			continue
		}
		if c.cfg.Limit > 0 && i >= c.cfg.Limit {
			break
		}
		c.logger.Infof("Fetching PDP %d/%d: %s", i+1, len(productLinks), link)

		body, err := c.http.Get(ctx, link)
		if err != nil {
			c.logger.Warnf("PDP fetch failed for %s: %v", link, err)
			continue
		}
		if err := c.processHTML(ctx, runID, locale, link, string(body), seen); err != nil {
			if errors.Is(err, pdp.ErrInvalidSnapshot) {
				c.logger.Warnf("Skipping %s: %v", link, err)
				continue
			}
			return err
		}
	}
	return nil
}

// processHTML runs the extraction pipeline over already-captured page HTML:
// snapshot, extract (structured data only, no swatch clicking), flatten,
// persist.
func (c *Crawler) processHTML(ctx context.Context, runID, locale, productURL, html string, seen map[string]struct{}) error {
	snap, err := pdp.NewSnapshot(productURL, html)
	if err != nil {
		return err
	}
	meta, variants, err := c.extractor.Extract(snap, pdp.Options{MaxColors: c.cfg.MaxColors})
	if err != nil {
		return err
	}
	rows := c.flattener.Flatten(meta, variants, types.CrawlContext{
		CrawlTS:    nowISO(),
		Locale:     locale,
		ProductURL: productURL,
		Source:     c.cfg.Source,
	})
	if len(rows) == 0 {
		c.logger.Warnf("No rows extracted for %s", productURL)
		return nil
	}
	return c.persist(ctx, runID, rows, seen)
}

// visitPDP navigates to one product page with retries, extracts every color
// state, flattens, and persists.
func (c *Crawler) visitPDP(ctx, pageCtx context.Context, productURL, locale, runID string, seen map[string]struct{}) error {
	var navErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if navErr = c.browser.Navigate(pageCtx, productURL, c.cfg.PDPDelay); navErr == nil {
			break
		}
		c.logger.Warnf("Navigation failed (attempt %d/3) for %s: %v", attempt, productURL, navErr)
		if err := c.jitterSleep(pageCtx, 500, 1200); err != nil {
			return err
		}
	}
	if navErr != nil {
		// The long-lived tab may be wedged; try once more with a fresh
		// one-shot browser context before giving up on the page.
		html, err := c.browser.GetPageContent(ctx, productURL)
		if err != nil {
			return fmt.Errorf("navigation gave up: %w", navErr)
		}
		c.logger.Warnf("Recovered %s with a fresh browser context", productURL)
		return c.processHTML(ctx, runID, locale, productURL, html, seen)
	}

	meta, variants, err := c.extractAllColors(pageCtx, productURL)
	if err != nil {
		return err
	}

	crawlCtx := types.CrawlContext{
		CrawlTS:    nowISO(),
		Locale:     locale,
		ProductURL: productURL,
		Source:     c.cfg.Source,
	}
	rows := c.flattener.Flatten(meta, variants, crawlCtx)
	if len(rows) == 0 {
		c.logger.Warnf("No rows extracted for %s", productURL)
		return nil
	}
	return c.persist(ctx, runID, rows, seen)
}

// extractAllColors snapshots the current page and, when structured data does
// not already enumerate every color, clicks through the swatches and merges
// one extraction per selected color state.
func (c *Crawler) extractAllColors(pageCtx context.Context, productURL string) (types.ProductMeta, []types.ColorVariant, error) {
	html, err := c.browser.OuterHTML(pageCtx)
	if err != nil {
		return types.ProductMeta{}, nil, err
	}
	snap, err := pdp.NewSnapshot(productURL, html)
	if err != nil {
		return types.ProductMeta{}, nil, err
	}
	meta, variants, err := c.extractor.Extract(snap, pdp.Options{MaxColors: c.cfg.MaxColors})
	if err != nil {
		return types.ProductMeta{}, nil, err
	}
	if len(variants) > 1 {
		// Structured data already covered every color in one snapshot.
		return meta, variants, nil
	}

	swatches, err := c.findColorSwatches(pageCtx)
	if err != nil {
		c.logger.Debugf("Swatch discovery failed for %s: %v", productURL, err)
		return meta, variants, nil
	}
	if len(swatches.Labels) <= 1 {
		return meta, variants, nil
	}
	c.logger.Debugf("Clicking through %d color swatches at %s", len(swatches.Labels), productURL)

	merged := variants
	index := map[string]int{}
	for i, v := range merged {
		index[v.Color] = i
	}
	for i, label := range swatches.Labels {
		if c.cfg.MaxColors > 0 && i >= c.cfg.MaxColors {
			break
		}
		if err := c.clickSwatch(pageCtx, swatches.Selector, i); err != nil {
			c.logger.Warnf("Failed to select color %q: %v", label, err)
			continue
		}
		if err := c.jitterDuration(pageCtx, c.cfg.JitterMin, c.cfg.JitterMax); err != nil {
			return types.ProductMeta{}, nil, err
		}

		html, err := c.browser.OuterHTML(pageCtx)
		if err != nil {
			c.logger.Warnf("Snapshot failed after selecting %q: %v", label, err)
			continue
		}
		colorSnap, err := pdp.NewSnapshot(productURL, html)
		if err != nil {
			continue
		}
		colorMeta, colorVariants, err := c.extractor.Extract(colorSnap, pdp.Options{SelectedColor: label})
		if err != nil {
			continue
		}
		if meta.Name == nil {
			meta = colorMeta
		}
		for _, cv := range colorVariants {
			if at, ok := index[cv.Color]; ok {
				merged[at] = cv
				continue
			}
			index[cv.Color] = len(merged)
			merged = append(merged, cv)
		}
	}
	return meta, merged, nil
}

// swatchSet names the selector that matched the page's color swatches and
// the label of each swatch in document order.
type swatchSet struct {
	Selector string   `json:"selector"`
	Labels   []string `json:"labels"`
}

const findSwatchesJS = `(() => {
	const selectors = [
		"[data-testid*='color'] [role='radio']",
		"button[aria-label*='Color']",
		"button[aria-label*='colour']",
		".qa--colour-selector li[aria-label]",
		"fieldset[class*='colour'] li[aria-label]",
		"[class*='colour'] li[aria-label]",
		"[class*='color'] li[aria-label]",
	];
	const sizeRe = /^(XXS|XS|S|M|L|XL|XXL|XXXL|\d+(\.\d+)?|\d+M|\d+W)$/i;
	for (const sel of selectors) {
		const els = Array.from(document.querySelectorAll(sel));
		if (!els.length) continue;
		const labels = els.map(e => (e.getAttribute('aria-label') || e.textContent || '').trim());
		if (labels.some(l => l && !sizeRe.test(l))) {
			return {selector: sel, labels: labels};
		}
	}
	return {selector: '', labels: []};
})()`

func (c *Crawler) findColorSwatches(pageCtx context.Context) (swatchSet, error) {
	var set swatchSet
	if err := chromedp.Run(pageCtx, chromedp.Evaluate(findSwatchesJS, &set)); err != nil {
		return swatchSet{}, fmt.Errorf("failed to enumerate color swatches: %w", err)
	}
	return set, nil
}

func (c *Crawler) clickSwatch(pageCtx context.Context, selector string, index int) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelectorAll(%q)[%d];
		if (!el) return false;
		const target = el.matches('button,[role="radio"]') ? el : (el.querySelector('button,[role="radio"],label') || el);
		target.click();
		return true;
	})()`, selector, index)

	var clicked bool
	if err := chromedp.Run(pageCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return fmt.Errorf("swatch click failed: %w", err)
	}
	if !clicked {
		return fmt.Errorf("swatch %d under %q no longer present", index, selector)
	}
	return nil
}

// persist writes rows through the CSV log and structured store, evaluating
// stock transitions against the pre-write state. Rows whose hash key was
// already written this run are skipped.
func (c *Crawler) persist(ctx context.Context, runID string, rows []types.CanonicalRow, seen map[string]struct{}) error {
	fresh := rows[:0:0]
	for _, row := range rows {
		if _, dup := seen[row.HashKey]; dup {
			continue
		}
		seen[row.HashKey] = struct{}{}
		fresh = append(fresh, row)
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := c.csv.Append(fresh); err != nil {
		return err
	}
	for _, row := range fresh {
		reason := ""
		fire := false
		if c.decider != nil {
			var err error
			reason, fire, err = c.decider.Evaluate(row)
			if err != nil {
				c.logger.Warnf("Transition check failed for %s: %v", row.HashKey, err)
			}
		}
		if err := c.store.UpsertVariant(row); err != nil {
			return err
		}
		if err := c.store.InsertObservation(runID, row); err != nil {
			return err
		}
		if fire {
			if err := c.decider.Fire(ctx, row, reason); err != nil {
				c.logger.Warnf("Alert failed for %s: %v", row.HashKey, err)
			}
		}
	}
	c.logger.Infof("Appended %d rows", len(fresh))
	return nil
}

func (c *Crawler) jitterSleep(ctx context.Context, minMs, maxMs int) error {
	return c.jitterDuration(ctx,
		time.Duration(minMs)*time.Millisecond,
		time.Duration(maxMs)*time.Millisecond)
}

// jitterDuration sleeps a random interval in [min, max] or returns early
// when the context is cancelled.
func (c *Crawler) jitterDuration(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
