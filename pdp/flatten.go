package pdp

import (
	"crypto/sha1"
	"encoding/hex"

	"outlet-watcher/internal/types"
)

// Fingerprint returns the deterministic identity digest of a variant-size:
// sha1 over "productURL|color|size", lowercase hex. Two rows with equal
// fingerprints are the same logical variant-size and downstream consumers
// must treat them as updates, never new entities. Not a security hash.
func Fingerprint(productURL, color, size string) string {
	sum := sha1.Sum([]byte(productURL + "|" + color + "|" + size))
	return hex.EncodeToString(sum[:])
}

// Flattener turns extracted color variants into canonical persisted rows.
type Flattener struct {
	logger types.Logger
}

// NewFlattener creates a new variant flattener
func NewFlattener(logger types.Logger) *Flattener {
	return &Flattener{logger: logger}
}

// Flatten emits one CanonicalRow per (color, size) pair in source order.
// A (color, size) pair observed twice within the same page visit keeps only
// the later observation's fields (last-write-wins by extraction order, not
// timestamp). An empty result is a valid degenerate outcome the caller can
// observe via the returned length.
func (f *Flattener) Flatten(meta types.ProductMeta, variants []types.ColorVariant, ctx types.CrawlContext) []types.CanonicalRow {
	rows := make([]types.CanonicalRow, 0)
	position := map[string]int{}
	byHash := map[string]string{}

	for _, variant := range variants {
		for _, size := range variant.Sizes {
			row := types.CanonicalRow{
				CrawlTS:      ctx.CrawlTS,
				Locale:       ctx.Locale,
				CategoryPath: meta.CategoryPath,
				Name:         meta.Name,
				SKU:          meta.SKU,
				ProductURL:   ctx.ProductURL,
				Color:        variant.Color,
				Size:         size.Label,
				ListPrice:    variant.ListPrice,
				SalePrice:    variant.SalePrice,
				Discount:     variant.Discount,
				InStock:      size.Available,
				Quantity:     size.Quantity,
				ImageURL:     variant.ImageURL,
				HashKey:      Fingerprint(ctx.ProductURL, variant.Color, size.Label),
				Source:       ctx.Source,
			}

			key := variant.Color + "\x00" + size.Label
			if prev, collided := claimFingerprint(byHash, row.HashKey, key); collided {
				f.logger.Errorf("fingerprint collision: hash %s claimed by %q and %q at %s",
					row.HashKey, prev, key, ctx.ProductURL)
			}

			if at, seen := position[key]; seen {
				rows[at] = row
				continue
			}
			position[key] = len(rows)
			rows = append(rows, row)
		}
	}
	return rows
}

// claimFingerprint records key as the owner of hash and reports a prior
// owner with different (color, size) text. Distinct pairs mapping to one
// digest are a data-integrity bug, never silently merged.
func claimFingerprint(byHash map[string]string, hash, key string) (string, bool) {
	prev, seen := byHash[hash]
	byHash[hash] = key
	if seen && prev != key {
		return prev, true
	}
	return "", false
}
