package utils

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"outlet-watcher/internal/types"
)

// BrowserClient provides headless browser functionality
type BrowserClient struct {
	config *types.Config
	logger types.Logger
}

// NewBrowserClient creates a new browser client
func NewBrowserClient(config *types.Config, logger types.Logger) *BrowserClient {
	// Suppress chromedp debug logging
	log.SetOutput(io.Discard)

	return &BrowserClient{
		config: config,
		logger: logger,
	}
}

// allocatorOptions builds the Chrome launch options: user agent, automation
// masking, and an optional proxy taken from the configured proxy URL.
func (b *BrowserClient) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserAgent(b.config.UserAgent),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if server := b.proxyServer(); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	return opts
}

// proxyServer validates the configured proxy URL and renders it in the
// scheme://host:port form Chrome accepts. Credentials in the URL are not
// supported by the proxy flag and are dropped with a warning.
func (b *BrowserClient) proxyServer() string {
	if b.config.ProxyURL == "" {
		return ""
	}
	parsed, err := url.Parse(b.config.ProxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" || parsed.Port() == "" {
		b.logger.Warnf("Ignoring malformed proxy URL %q", b.config.ProxyURL)
		return ""
	}
	if parsed.User != nil {
		b.logger.Warn("Proxy credentials are not supported and will be ignored")
	}
	return fmt.Sprintf("%s://%s:%s", parsed.Scheme, parsed.Hostname(), parsed.Port())
}

// NewPageContext creates a long-lived browser tab context for a crawl
// session. The returned cancel func tears down the tab and the browser.
func (b *BrowserClient) NewPageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	return browserCtx, cancel
}

// Navigate loads a URL in an existing page context and waits the settle
// delay so client-rendered content appears before snapshotting.
func (b *BrowserClient) Navigate(pageCtx context.Context, url string, settle time.Duration) error {
	navCtx, cancel := context.WithTimeout(pageCtx, b.config.Timeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// OuterHTML snapshots the full rendered document of an existing page context.
func (b *BrowserClient) OuterHTML(pageCtx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to snapshot page: %w", err)
	}
	b.logger.Debugf("Captured page snapshot (%d bytes)", len(html))
	return html, nil
}

// GetPageContent retrieves the HTML content of a page using a fresh browser
// context, for one-shot snapshots outside a crawl session.
func (b *BrowserClient) GetPageContent(ctx context.Context, url string) (string, error) {
	browserCtx, cancel := b.NewPageContext(ctx)
	defer cancel()

	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, b.config.Timeout)
	defer timeoutCancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}

	b.logger.Debugf("Successfully retrieved page content from %s (%d bytes)", url, len(html))
	return html, nil
}
