package pdp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"outlet-watcher/internal/types"
)

// ErrInvalidSnapshot is returned when the snapshot lacks the inputs the
// pipeline cannot proceed without. Callers should skip the page and move on,
// not abort the run.
var ErrInvalidSnapshot = errors.New("invalid page snapshot: missing product URL")

// Options tunes a single extraction call.
type Options struct {
	// SelectedColor names the color the navigation layer has currently
	// selected; used to label the synthetic variant when the page exposes
	// no structured color enumeration.
	SelectedColor string
	// MaxColors caps how many color variants are returned (0 = no cap).
	MaxColors int
}

// Extractor resolves primitive product fields from a page snapshot. Each
// field is backed by an ordered chain of strategies: structured data sources
// first, visible DOM text and attributes second. The first strategy to
// produce a value wins; an exhausted chain leaves the field nil.
type Extractor struct {
	logger types.Logger
}

// NewExtractor creates a new field extractor
func NewExtractor(logger types.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// strategy resolves one field from the snapshot, reporting ok=false when its
// source cannot supply it.
type strategy func(s *Snapshot) (string, bool)

func resolve(s *Snapshot, chain ...strategy) *string {
	for _, st := range chain {
		if v, ok := st(s); ok {
			return &v
		}
	}
	return nil
}

// Extract pulls product metadata and the ordered color variant list out of a
// snapshot. A page with zero identifiable colors degrades to a single
// synthetic variant drawing sizes from the page's implicit color; a page
// with no sizes at all yields zero variants, which is a degenerate capture
// the caller observes via the empty result, not an error.
func (e *Extractor) Extract(snap *Snapshot, opts Options) (types.ProductMeta, []types.ColorVariant, error) {
	if snap == nil || strings.TrimSpace(snap.URL) == "" {
		return types.ProductMeta{}, nil, ErrInvalidSnapshot
	}

	meta := types.ProductMeta{
		Name:         resolve(snap, fromJSONLDName, fromHeading),
		SKU:          resolve(snap, fromJSONLDSKU),
		CategoryPath: resolve(snap, fromBreadcrumbNav, fromBreadcrumbClass),
	}

	listPrice := resolve(snap, fromNextDataListPrice, fromPriceBlockList)
	salePrice := resolve(snap, fromNextDataSalePrice, fromJSONLDOfferPrice, fromPriceBlockSale)
	discount := resolve(snap, fromDiscountElement, fromPriceBlockDiscount)

	variants := e.colorVariantsFromNextData(snap)
	if len(variants) == 0 {
		if v, ok := e.syntheticVariant(snap, opts.SelectedColor); ok {
			variants = []types.ColorVariant{v}
		}
	}

	for i := range variants {
		if variants[i].ListPrice == nil {
			variants[i].ListPrice = listPrice
		}
		if variants[i].SalePrice == nil {
			variants[i].SalePrice = salePrice
		}
		if variants[i].Discount == nil {
			variants[i].Discount = discount
		}
		if variants[i].ImageURL == nil {
			variants[i].ImageURL = resolve(snap, fromJSONLDImage, fromHeroImage)
		}
	}

	if opts.MaxColors > 0 && len(variants) > opts.MaxColors {
		variants = variants[:opts.MaxColors]
	}
	if len(variants) == 0 {
		e.logger.Warnf("degenerate capture: no colors or sizes discovered at %s", snap.URL)
	}
	return meta, variants, nil
}

// --- structured-data strategies -----------------------------------------

func fromJSONLDName(s *Snapshot) (string, bool) {
	if v, ok := s.jsonLD["name"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func fromJSONLDSKU(s *Snapshot) (string, bool) {
	if v, ok := s.jsonLD["sku"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func fromJSONLDImage(s *Snapshot) (string, bool) {
	switch img := s.jsonLD["image"].(type) {
	case string:
		if img != "" {
			return s.absoluteURL(img), true
		}
	case []interface{}:
		if len(img) > 0 {
			if first, ok := img[0].(string); ok && first != "" {
				return s.absoluteURL(first), true
			}
		}
	}
	return "", false
}

// fromJSONLDOfferPrice reads the offer price. A lone offer price cannot be
// told apart as list vs sale, so it is always treated as the sale price; the
// list side stays nil unless another source supplies it.
func fromJSONLDOfferPrice(s *Snapshot) (string, bool) {
	offers := s.jsonLD["offers"]
	currency := offerCurrency(offers)
	switch o := offers.(type) {
	case map[string]interface{}:
		if ps := priceString(o["price"], currency); ps != "" {
			return ps, true
		}
	case []interface{}:
		best := ""
		bestVal := 0.0
		for _, item := range o {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ps := priceString(m["price"], currency)
			if ps == "" {
				continue
			}
			v := moneyValue(ps)
			if best == "" || v < bestVal {
				best, bestVal = ps, v
			}
		}
		if best != "" {
			return best, true
		}
	}
	return "", false
}

func offerCurrency(offers interface{}) string {
	switch o := offers.(type) {
	case map[string]interface{}:
		if c, ok := o["priceCurrency"].(string); ok {
			return c
		}
	case []interface{}:
		for _, item := range o {
			if m, ok := item.(map[string]interface{}); ok {
				if c, ok := m["priceCurrency"].(string); ok && c != "" {
					return c
				}
			}
		}
	}
	return ""
}

var currencyMarkRe = regexp.MustCompile(`[$€£]|^[A-Z]{3}\s`)

// priceString renders a raw structured-data price as a verbatim display
// string, keeping any currency marker already present and prefixing the
// currency code otherwise. Numbers are never re-rounded.
func priceString(value interface{}, currency string) string {
	var raw string
	switch v := value.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case float64:
		raw = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
		if !strings.Contains(raw, ".") {
			raw = fmt.Sprintf("%.2f", v)
		}
	default:
		return ""
	}
	if raw == "" {
		return ""
	}
	if currencyMarkRe.MatchString(raw) || currency == "" {
		return raw
	}
	return currency + " " + raw
}

// Price field names per side, in priority order: a product carrying both
// compareAtPrice and listPrice resolves to compareAtPrice on every call.
var (
	listPriceKeys = []string{"compareatprice", "compare_at_price", "listprice"}
	salePriceKeys = []string{"saleprice", "finalprice", "price"}
	priceKeySet   = func() map[string]struct{} {
		set := map[string]struct{}{}
		for _, k := range append(append([]string{}, listPriceKeys...), salePriceKeys...) {
			set[k] = struct{}{}
		}
		return set
	}()
)

func fromNextDataListPrice(s *Snapshot) (string, bool) { return nextDataPrice(s, listPriceKeys) }
func fromNextDataSalePrice(s *Snapshot) (string, bool) { return nextDataPrice(s, salePriceKeys) }

func nextDataPrice(s *Snapshot, keys []string) (string, bool) {
	product := s.nextProduct()
	if product == nil {
		return "", false
	}
	found := map[string]interface{}{}
	walkPriceFields(product, found)
	currency := offerCurrency(s.jsonLD["offers"])
	for _, key := range keys {
		if v, ok := found[key]; ok {
			if ps := priceString(v, currency); ps != "" {
				return ps, true
			}
		}
	}
	return "", false
}

// walkPriceFields collects the first value seen for each price field name.
// Objects are traversed in sorted key order so repeated walks of the same
// payload always surface the same value.
func walkPriceFields(obj interface{}, found map[string]interface{}) {
	switch v := obj.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := v[k]
			lk := strings.ToLower(k)
			if _, interesting := priceKeySet[lk]; interesting {
				switch val.(type) {
				case string, float64:
					if _, seen := found[lk]; !seen {
						found[lk] = val
					}
				}
			}
			walkPriceFields(val, found)
		}
	case []interface{}:
		for _, item := range v {
			walkPriceFields(item, found)
		}
	}
}

// colorVariantsFromNextData enumerates every color with its per-size
// inventory from the __NEXT_DATA__ product tables: colour options give the
// labels and hero images, size options map size ids to labels, and the
// variant list carries (colourId, sizeId, inventory) triples.
func (e *Extractor) colorVariantsFromNextData(snap *Snapshot) []types.ColorVariant {
	product := snap.nextProduct()
	if product == nil {
		return nil
	}

	sizeLabels := map[string]string{}
	if sizeOptions, ok := product["sizeOptions"].(map[string]interface{}); ok {
		if opts, ok := sizeOptions["options"].([]interface{}); ok {
			for _, raw := range opts {
				o, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				id := stringish(o["value"])
				label := normalizeSizeLabel(stringish(o["label"]))
				if id != "" && label != "" {
					sizeLabels[id] = label
				}
			}
		}
	}

	colourOptions, _ := product["colourOptions"].(map[string]interface{})
	if colourOptions == nil {
		return nil
	}
	opts, _ := colourOptions["options"].([]interface{})
	variantList, _ := product["variants"].([]interface{})

	var out []types.ColorVariant
	for _, raw := range opts {
		o, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		colourID := stringish(o["value"])
		label := strings.TrimSpace(stringish(o["label"]))
		if colourID == "" || label == "" {
			continue
		}

		cv := types.ColorVariant{Color: label}
		if hero := heroImageURL(o); hero != "" {
			abs := snap.absoluteURL(hero)
			cv.ImageURL = &abs
		}

		qtyBySize := map[string]int{}
		for _, rawVariant := range variantList {
			v, ok := rawVariant.(map[string]interface{})
			if !ok {
				continue
			}
			if stringish(v["colourId"]) != colourID {
				continue
			}
			sizeLabel := sizeLabels[stringish(v["sizeId"])]
			if sizeLabel == "" {
				continue
			}
			inv := 0
			if f, ok := v["inventory"].(float64); ok {
				inv = int(f)
			}
			qtyBySize[sizeLabel] = inv
		}
		if len(qtyBySize) == 0 {
			continue
		}
		for _, label := range sortedSizeLabels(qtyBySize) {
			qty := qtyBySize[label]
			q := qty
			cv.Sizes = append(cv.Sizes, types.SizeOption{
				Label:     label,
				Available: qty > 0,
				Quantity:  &q,
			})
		}
		out = append(out, cv)
	}
	return out
}

func heroImageURL(option map[string]interface{}) string {
	for _, key := range []string{"heroImage", "image", "thumbnail"} {
		if m, ok := option[key].(map[string]interface{}); ok {
			if u, ok := m["url"].(string); ok && u != "" {
				return u
			}
		}
	}
	return ""
}

func stringish(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	}
	return ""
}

var sizeNumRe = regexp.MustCompile(`^(\d+)(?:[.xX]?(\d)?)`)

// sortedSizeLabels orders numeric sizes numerically and everything else
// lexically after them, so "8, 8.5, 10" does not sort as strings.
func sortedSizeLabels(qty map[string]int) []string {
	labels := make([]string, 0, len(qty))
	for label := range qty {
		labels = append(labels, label)
	}
	key := func(s string) (int, string) {
		if m := sizeNumRe.FindStringSubmatch(s); m != nil {
			major := 0
			fmt.Sscanf(m[1], "%d", &major)
			minor := 0
			if m[2] != "" {
				fmt.Sscanf(m[2], "%d", &minor)
			}
			return major*10 + minor, s
		}
		return 1 << 30, s
	}
	sort.Slice(labels, func(i, j int) bool {
		ki, si := key(labels[i])
		kj, sj := key(labels[j])
		if ki != kj {
			return ki < kj
		}
		return si < sj
	})
	return labels
}

// --- visible-text strategies --------------------------------------------

func fromHeading(s *Snapshot) (string, bool) {
	txt := strings.TrimSpace(s.doc.Find("h1").First().Text())
	return txt, txt != ""
}

var wsRe = regexp.MustCompile(`\s+`)

func fromBreadcrumbNav(s *Snapshot) (string, bool) {
	txt := wsRe.ReplaceAllString(strings.TrimSpace(s.doc.Find(`nav[aria-label="breadcrumb"]`).First().Text()), " ")
	return txt, txt != ""
}

func fromBreadcrumbClass(s *Snapshot) (string, bool) {
	txt := wsRe.ReplaceAllString(strings.TrimSpace(s.doc.Find(".breadcrumb, .breadcrumbs").First().Text()), " ")
	return txt, txt != ""
}

var priceTextSelectors = []string{
	"[data-testid='price']",
	"[data-testid*='price']",
	".product-price, .ProductPrice, .price, .Price, [class*='Price']",
	".sale-price, .SalePrice, [class*='sale']",
	".regular-price, .RegularPrice, [class*='regular']",
	"[aria-label*='Price'], [aria-label*='price']",
	"[data-testid*='compare'], .compare-at, .CompareAt, [class*='compare']",
	"[data-testid*='current'], .current-price, .CurrentPrice, [class*='current']",
}

var saveTokenRe = regexp.MustCompile(`(?i)save\s*\d+%`)

// priceBlockText pulls the most informative visible price text: candidates
// that carry a "Save N%" token are preferred, then any candidate containing
// a money token.
func (s *Snapshot) priceBlockText() string {
	var prioritized, generic []string
	for _, sel := range priceTextSelectors {
		s.doc.Find(sel).EachWithBreak(func(i int, node *goquery.Selection) bool {
			if i >= 3 {
				return false
			}
			txt := stripFinancingLines(node.Text())
			if txt == "" {
				return true
			}
			if saveTokenRe.MatchString(txt) {
				prioritized = append(prioritized, txt)
			} else {
				generic = append(generic, txt)
			}
			return true
		})
	}
	for _, bucket := range [][]string{prioritized, generic} {
		for _, txt := range bucket {
			if moneyRe.MatchString(txt) {
				return txt
			}
		}
	}
	return ""
}

func fromPriceBlockList(s *Snapshot) (string, bool) {
	block := ParsePriceBlock(s.priceBlockText())
	if block.ListPrice != nil {
		return *block.ListPrice, true
	}
	return "", false
}

func fromPriceBlockSale(s *Snapshot) (string, bool) {
	block := ParsePriceBlock(s.priceBlockText())
	if block.SalePrice != nil {
		return *block.SalePrice, true
	}
	return "", false
}

func fromPriceBlockDiscount(s *Snapshot) (string, bool) {
	block := ParsePriceBlock(s.priceBlockText())
	if block.Discount != nil {
		return *block.Discount, true
	}
	return "", false
}

func fromDiscountElement(s *Snapshot) (string, bool) {
	txt := s.doc.Find("[class*='discount'], [data-testid*='discount']").First().Text()
	if m := percentRe.FindStringSubmatch(txt); m != nil {
		return m[1] + "%", true
	}
	return "", false
}

var heroImageSelectors = []string{
	"figure[data-testid*='hero'] img",
	"[data-testid*='hero'] img",
	"[data-testid='pdp-hero-image'] img",
	".swiper-slide.swiper-slide-active img",
	"img[alt*='product'], img[alt*='Product'], .ProductGallery img",
}

func fromHeroImage(s *Snapshot) (string, bool) {
	for _, sel := range heroImageSelectors {
		node := s.doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		src := node.AttrOr("src", "")
		if src == "" {
			src = node.AttrOr("data-src", "")
		}
		if src == "" {
			if srcset := node.AttrOr("srcset", ""); srcset != "" {
				first := strings.SplitN(strings.TrimSpace(strings.SplitN(srcset, ",", 2)[0]), " ", 2)[0]
				src = first
			}
		}
		if src != "" {
			return s.absoluteURL(src), true
		}
	}
	return "", false
}

var selectedColorSelectors = []string{
	"[data-testid='selected-color-name']",
	"[data-testid='pdp-color-label']",
	"[aria-live] .color-name",
	".selected .color-name, .ColorName",
}

func fromSelectedColor(s *Snapshot) (string, bool) {
	for _, sel := range selectedColorSelectors {
		txt := strings.TrimSpace(s.doc.Find(sel).First().Text())
		if txt != "" {
			return txt, true
		}
	}
	return "", false
}

// syntheticVariant builds the single fallback variant for pages whose colors
// are not enumerable from structured data: sizes come from the visible size
// chips and the color label from the navigation layer's hint or the page's
// selected-color element. A page with no size chips is represented by one
// empty-label size carrying the overall availability signal, when one
// exists; with no availability signal at all there is no variant.
func (e *Extractor) syntheticVariant(snap *Snapshot, selectedColor string) (types.ColorVariant, bool) {
	color := strings.TrimSpace(selectedColor)
	if color == "" {
		if name, ok := fromSelectedColor(snap); ok {
			color = name
		}
	}

	sizes := extractSizeChips(snap)
	if len(sizes) == 0 {
		avail, ok := overallAvailability(snap)
		if !ok {
			return types.ColorVariant{}, false
		}
		sizes = []types.SizeOption{{Label: "", Available: avail}}
	}
	return types.ColorVariant{Color: color, Sizes: sizes}, true
}

var sizeChipSelectors = []string{
	"[data-testid='pdp-size-option']",
	"[data-testid='size-selector'] [role='radio']",
	"[role='radiogroup'] [role='radio']",
	".size-chip, .sizeChip, button[aria-label*='Size']",
	".qa--size-list li",
	"[class*='size-list'] li",
}

var noStockClassRe = regexp.MustCompile(`(?i)no--stock|sold|out|disabled`)
var digitsRe = regexp.MustCompile(`^\d+$`)

// extractSizeChips reads the visible size chips in source order. Duplicate
// labels are preserved here; the flattener owns de-duplication.
func extractSizeChips(snap *Snapshot) []types.SizeOption {
	var sizes []types.SizeOption
	for _, sel := range sizeChipSelectors {
		snap.doc.Find(sel).Each(func(_ int, chip *goquery.Selection) {
			label := chipLabel(chip)
			if label == "" {
				return
			}
			option := types.SizeOption{Label: label, Available: !chipDisabled(chip)}
			if qty, ok := chipQuantity(chip); ok {
				option.Quantity = &qty
			}
			sizes = append(sizes, option)
		})
		if len(sizes) > 0 {
			break
		}
	}
	return sizes
}

func chipLabel(chip *goquery.Selection) string {
	label := ""
	if btn := chip.Find("button, [role='radio']").First(); btn.Length() > 0 {
		label = btn.AttrOr("data-size-value", "")
	}
	if label == "" {
		label = chip.AttrOr("data-size-value", "")
	}
	if label == "" {
		label = chip.AttrOr("aria-label", "")
	}
	if label == "" {
		label = chip.Text()
	}
	return normalizeSizeLabel(label)
}

// normalizeSizeLabel collapses whitespace and dashes so "29 - R" and "29-R"
// both key as "29R".
func normalizeSizeLabel(label string) string {
	label = wsRe.ReplaceAllString(strings.TrimSpace(label), "")
	return strings.ReplaceAll(label, "-", "")
}

// chipDisabled applies the stock-flag policy: any disabled or out-of-stock
// marker forces unavailable, regardless of quantity badges.
func chipDisabled(chip *goquery.Selection) bool {
	if _, ok := chip.Attr("disabled"); ok {
		return true
	}
	if strings.EqualFold(chip.AttrOr("aria-disabled", ""), "true") {
		return true
	}
	if noStockClassRe.MatchString(chip.AttrOr("class", "")) {
		return true
	}
	btn := chip.Find("button, [role='radio']").First()
	if btn.Length() > 0 {
		if _, ok := btn.Attr("disabled"); ok {
			return true
		}
		if strings.EqualFold(btn.AttrOr("aria-disabled", ""), "true") {
			return true
		}
		if noStockClassRe.MatchString(btn.AttrOr("class", "")) {
			return true
		}
	}
	return false
}

func chipQuantity(chip *goquery.Selection) (int, bool) {
	raw := chip.AttrOr("data-quantity", "")
	if raw == "" {
		raw = strings.TrimSpace(chip.Find("[class*='badge'], [class*='quantity']").First().Text())
	}
	if !digitsRe.MatchString(raw) {
		return 0, false
	}
	qty := 0
	fmt.Sscanf(raw, "%d", &qty)
	return qty, true
}

// overallAvailability reads the page-level availability signal from JSON-LD
// offers, the only structured source that survives for sizeless products.
func overallAvailability(snap *Snapshot) (bool, bool) {
	check := func(m map[string]interface{}) (bool, bool) {
		avail, ok := m["availability"].(string)
		if !ok {
			return false, false
		}
		switch {
		case strings.Contains(avail, "InStock"):
			return true, true
		case strings.Contains(avail, "OutOfStock"):
			return false, true
		}
		return false, false
	}
	switch offers := snap.jsonLD["offers"].(type) {
	case map[string]interface{}:
		return check(offers)
	case []interface{}:
		for _, item := range offers {
			if m, ok := item.(map[string]interface{}); ok {
				if avail, known := check(m); known {
					return avail, true
				}
			}
		}
	}
	return false, false
}
