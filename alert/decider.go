package alert

import (
	"context"

	"outlet-watcher/internal/types"
	"outlet-watcher/sink"
)

// Transition reasons. A given (hash_key, reason) pair is alerted at most
// once, ever; the alerts table enforces the uniqueness.
const (
	ReasonFirstSeen   = "first_seen"
	ReasonWentInStock = "went_in_stock"
)

// Notifier delivers one alert. Implementations must treat delivery failure
// as non-fatal; the ledger entry already exists either way.
type Notifier interface {
	Notify(ctx context.Context, payload Payload) error
}

// Payload is the alert body handed to notifiers.
type Payload struct {
	HashKey    string  `json:"hash_key"`
	Reason     string  `json:"reason"`
	ProductURL string  `json:"product_url"`
	Color      string  `json:"color"`
	Size       string  `json:"size"`
	Name       *string `json:"name,omitempty"`
	ListPrice  *string `json:"list_price,omitempty"`
	SalePrice  *string `json:"sale_price,omitempty"`
	Discount   *string `json:"discount,omitempty"`
	Quantity   *int    `json:"quantity,omitempty"`
	CrawlTS    string  `json:"crawl_ts"`
}

// Decider compares newly flattened rows against prior persisted state and
// fires notification-worthy transitions.
type Decider struct {
	store    *sink.Store
	notifier Notifier
	logger   types.Logger
}

// NewDecider creates a decider over the given store. The notifier may be nil,
// in which case transitions are recorded but not delivered.
func NewDecider(store *sink.Store, notifier Notifier, logger types.Logger) *Decider {
	return &Decider{store: store, notifier: notifier, logger: logger}
}

// Evaluate inspects prior persisted state for the row's hash key and returns
// the transition reason, if any. It must run BEFORE the row is written to
// the store, since it reads the pre-crawl state.
func (d *Decider) Evaluate(row types.CanonicalRow) (string, bool, error) {
	if !row.InStock {
		return "", false, nil
	}
	seen, err := d.store.HasVariant(row.HashKey)
	if err != nil {
		return "", false, err
	}
	if !seen {
		return ReasonFirstSeen, true, nil
	}
	prior, err := d.store.LatestObservation(row.HashKey)
	if err != nil {
		return "", false, err
	}
	if prior != nil && !prior.InStock {
		return ReasonWentInStock, true, nil
	}
	return "", false, nil
}

// Fire records the alert in the ledger and, when this call is the first to
// claim the (hash_key, reason) pair, delivers it. Repeat transitions for an
// already-claimed pair are silently skipped.
func (d *Decider) Fire(ctx context.Context, row types.CanonicalRow, reason string) error {
	claimed, err := d.store.RecordAlert(row.HashKey, reason, row.CrawlTS)
	if err != nil {
		return err
	}
	if !claimed {
		d.logger.Debugf("alert %s/%s already sent, skipping", row.HashKey, reason)
		return nil
	}
	d.logger.Infof("alert %s: %s %s/%s (%s)", reason, row.ProductURL, row.Color, row.Size, row.HashKey)
	if d.notifier == nil {
		return nil
	}
	payload := Payload{
		HashKey:    row.HashKey,
		Reason:     reason,
		ProductURL: row.ProductURL,
		Color:      row.Color,
		Size:       row.Size,
		Name:       row.Name,
		ListPrice:  row.ListPrice,
		SalePrice:  row.SalePrice,
		Discount:   row.Discount,
		Quantity:   row.Quantity,
		CrawlTS:    row.CrawlTS,
	}
	if err := d.notifier.Notify(ctx, payload); err != nil {
		// Delivery failures never abort the crawl; the ledger entry stands.
		d.logger.Warnf("alert delivery failed for %s/%s: %v", row.HashKey, reason, err)
	}
	return nil
}
