package types

import "time"

// SizeOption is one size chip under a color. Quantity is only set when the
// page exposes stock counts; Available false covers both disabled chips and
// chips missing from the sellable subset.
type SizeOption struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
	Quantity  *int   `json:"quantity,omitempty"`
}

// ColorVariant is one selectable color option of a product. Price fields are
// currency-formatted strings preserved verbatim; nil means the fallback chain
// was exhausted.
type ColorVariant struct {
	Color     string       `json:"color"`
	ImageURL  *string      `json:"image_url,omitempty"`
	ListPrice *string      `json:"list_price,omitempty"`
	SalePrice *string      `json:"sale_price,omitempty"`
	Discount  *string      `json:"discount,omitempty"`
	Sizes     []SizeOption `json:"sizes"`
}

// ProductMeta holds page-level fields shared by every variant of a product.
type ProductMeta struct {
	Name         *string `json:"name,omitempty"`
	SKU          *string `json:"sku,omitempty"`
	CategoryPath *string `json:"category_path,omitempty"`
}

// CrawlContext carries the run-level fields stamped onto every emitted row.
type CrawlContext struct {
	CrawlTS    string `json:"crawl_ts"`
	Locale     string `json:"locale"`
	ProductURL string `json:"product_url"`
	Source     string `json:"source"`
}

// CanonicalRow is the flattened, persisted unit: one (color, size)
// observation from a single page visit. Rows are immutable once emitted.
type CanonicalRow struct {
	CrawlTS      string  `json:"crawl_ts"`
	Locale       string  `json:"locale"`
	CategoryPath *string `json:"category_path,omitempty"`
	Name         *string `json:"name,omitempty"`
	SKU          *string `json:"sku,omitempty"`
	ProductURL   string  `json:"product_url"`
	Color        string  `json:"color"`
	Size         string  `json:"size"`
	ListPrice    *string `json:"list_price,omitempty"`
	SalePrice    *string `json:"sale_price,omitempty"`
	Discount     *string `json:"discount,omitempty"`
	InStock      bool    `json:"in_stock"`
	Quantity     *int    `json:"quantity,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	HashKey      string  `json:"hash_key"`
	Source       string  `json:"source"`
}

// Config holds the runtime knobs for the crawler and its collaborators.
// Values come from the environment (prefix OUTLET) with flag overrides in cmd.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" default:"https://outlet.arcteryx.com/us/en"`
	UserAgent          string        `envconfig:"USER_AGENT" default:"OutletWatcher/1.0 (+contact: you@example.com)"`
	ProxyURL           string        `envconfig:"PROXY_URL"`
	OutputCSV          string        `envconfig:"OUTPUT_CSV" default:"outlet.csv"`
	OutputDB           string        `envconfig:"OUTPUT_DB" default:"outlet.sqlite"`
	AlertWebhook       string        `envconfig:"ALERT_WEBHOOK"`
	Source             string        `envconfig:"SOURCE" default:"outlet-watcher"`
	JitterMin          time.Duration `envconfig:"JITTER_MIN" default:"700ms"`
	JitterMax          time.Duration `envconfig:"JITTER_MAX" default:"1500ms"`
	PDPDelay           time.Duration `envconfig:"PDP_DELAY" default:"2500ms"`
	RequestDelay       time.Duration `envconfig:"REQUEST_DELAY" default:"1s"`
	Timeout            time.Duration `envconfig:"TIMEOUT" default:"60s"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" default:"3"`
	MaxColors          int           `envconfig:"MAX_COLORS" default:"0"`
	MaxScrolls         int           `envconfig:"MAX_SCROLLS" default:"40"`
	Limit              int           `envconfig:"LIMIT" default:"0"`
	StartAt            int           `envconfig:"START_AT" default:"0"`
	UseHeadlessBrowser bool          `envconfig:"USE_BROWSER" default:"true"`
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://outlet.arcteryx.com/us/en",
		UserAgent:          "OutletWatcher/1.0 (+contact: you@example.com)",
		OutputCSV:          "outlet.csv",
		OutputDB:           "outlet.sqlite",
		Source:             "outlet-watcher",
		JitterMin:          700 * time.Millisecond,
		JitterMax:          1500 * time.Millisecond,
		PDPDelay:           2500 * time.Millisecond,
		RequestDelay:       1 * time.Second,
		Timeout:            60 * time.Second,
		MaxRetries:         3,
		MaxScrolls:         40,
		UseHeadlessBrowser: true,
	}
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
