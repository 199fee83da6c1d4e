package pdp

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pdpURL = "https://outlet.example.com/us/en/shop/mens/beta-jacket"

func newTestExtractor() *Extractor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewExtractor(logger)
}

func mustSnapshot(t *testing.T, html string) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(pdpURL, html)
	require.NoError(t, err)
	return snap
}

const domOnlyPage = `<!DOCTYPE html>
<html><head>
<script type="application/ld+json">
{"@type":"Product","name":"Beta Jacket","sku":"X000012345","offers":{"availability":"http://schema.org/InStock"}}
</script>
</head><body>
<nav aria-label="breadcrumb">
  Home /
  Mens / Jackets
</nav>
<h1>Beta Jacket Heading</h1>
<div data-testid="price">$750.00 $150.00 Save 80%</div>
<div data-testid="selected-color-name">Black</div>
<div data-testid="size-selector">
  <div role="radio">M</div>
  <div role="radio" aria-disabled="true">L</div>
</div>
</body></html>`

func TestExtract_DOMFallbacks(t *testing.T) {
	e := newTestExtractor()
	meta, variants, err := e.Extract(mustSnapshot(t, domOnlyPage), Options{})

	require.NoError(t, err)
	require.NotNil(t, meta.Name)
	assert.Equal(t, "Beta Jacket", *meta.Name, "structured name wins over the heading")
	require.NotNil(t, meta.SKU)
	assert.Equal(t, "X000012345", *meta.SKU)
	require.NotNil(t, meta.CategoryPath)
	assert.Equal(t, "Home / Mens / Jackets", *meta.CategoryPath)

	require.Len(t, variants, 1)
	v := variants[0]
	assert.Equal(t, "Black", v.Color)
	require.NotNil(t, v.ListPrice)
	assert.Equal(t, "$750.00", *v.ListPrice)
	require.NotNil(t, v.SalePrice)
	assert.Equal(t, "$150.00", *v.SalePrice)
	require.NotNil(t, v.Discount)
	assert.Equal(t, "80%", *v.Discount)

	require.Len(t, v.Sizes, 2)
	assert.Equal(t, "M", v.Sizes[0].Label)
	assert.True(t, v.Sizes[0].Available)
	assert.Equal(t, "L", v.Sizes[1].Label)
	assert.False(t, v.Sizes[1].Available, "aria-disabled chip must be unavailable")
}

func TestExtract_SinglePriceFromStructuredOffer(t *testing.T) {
	page := `<html><head>
<script type="application/ld+json">
{"name":"Beta Jacket","offers":{"price":"150.00","priceCurrency":"USD","availability":"http://schema.org/InStock"}}
</script>
</head><body><h1>Beta Jacket</h1></body></html>`

	e := newTestExtractor()
	_, variants, err := e.Extract(mustSnapshot(t, page), Options{})

	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Nil(t, variants[0].ListPrice, "a lone offer price is never the list price")
	require.NotNil(t, variants[0].SalePrice)
	assert.Equal(t, "USD 150.00", *variants[0].SalePrice)
	assert.Nil(t, variants[0].Discount)
}

func TestExtract_SizelessProductUsesAvailabilitySignal(t *testing.T) {
	page := `<html><head>
<script type="application/ld+json">
{"name":"Gear Sling","offers":{"availability":"http://schema.org/OutOfStock"}}
</script>
</head><body><h1>Gear Sling</h1></body></html>`

	e := newTestExtractor()
	_, variants, err := e.Extract(mustSnapshot(t, page), Options{})

	require.NoError(t, err)
	require.Len(t, variants, 1)
	require.Len(t, variants[0].Sizes, 1)
	assert.Equal(t, "", variants[0].Sizes[0].Label)
	assert.False(t, variants[0].Sizes[0].Available)
}

const nextDataPage = `<html><head>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"product":{
  "colourOptions":{"selected":"c1","options":[
    {"label":"Black","value":"c1","heroImage":{"url":"//img.example.com/black.jpg"}},
    {"label":"Blue Tetra","value":"c2"}
  ]},
  "sizeOptions":{"options":[
    {"value":"s1","label":"8"},
    {"value":"s2","label":"9.5"},
    {"value":"s3","label":"10"}
  ]},
  "variants":[
    {"colourId":"c1","sizeId":"s1","inventory":2},
    {"colourId":"c1","sizeId":"s3","inventory":0},
    {"colourId":"c2","sizeId":"s2","inventory":5}
  ]
}}}}
</script>
</head><body><h1>Konseal Shoe</h1></body></html>`

func TestExtract_NextDataEnumeratesAllColors(t *testing.T) {
	e := newTestExtractor()
	meta, variants, err := e.Extract(mustSnapshot(t, nextDataPage), Options{})

	require.NoError(t, err)
	require.NotNil(t, meta.Name)
	assert.Equal(t, "Konseal Shoe", *meta.Name)

	require.Len(t, variants, 2)

	black := variants[0]
	assert.Equal(t, "Black", black.Color)
	require.NotNil(t, black.ImageURL)
	assert.Equal(t, "https://img.example.com/black.jpg", *black.ImageURL)
	require.Len(t, black.Sizes, 2)
	assert.Equal(t, "8", black.Sizes[0].Label)
	assert.True(t, black.Sizes[0].Available)
	require.NotNil(t, black.Sizes[0].Quantity)
	assert.Equal(t, 2, *black.Sizes[0].Quantity)
	assert.Equal(t, "10", black.Sizes[1].Label, "numeric sizes sort numerically")
	assert.False(t, black.Sizes[1].Available)

	blue := variants[1]
	assert.Equal(t, "Blue Tetra", blue.Color)
	require.Len(t, blue.Sizes, 1)
	assert.Equal(t, "9.5", blue.Sizes[0].Label)
	require.NotNil(t, blue.Sizes[0].Quantity)
	assert.Equal(t, 5, *blue.Sizes[0].Quantity)
}

func TestNextDataPrice_CompetingKeysResolveConsistently(t *testing.T) {
	page := `<html><head>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"product":{
  "compareAtPrice":"$800.00",
  "listPrice":"$700.00",
  "price":"$150.00"
}}}}
</script>
</head><body><h1>Beta Jacket</h1></body></html>`
	snap := mustSnapshot(t, page)

	// Repeated extraction over the same snapshot must always surface the
	// same verbatim strings when several price fields compete.
	for i := 0; i < 200; i++ {
		list, ok := fromNextDataListPrice(snap)
		require.True(t, ok)
		require.Equal(t, "$800.00", list)

		sale, ok := fromNextDataSalePrice(snap)
		require.True(t, ok)
		require.Equal(t, "$150.00", sale)
	}
}

func TestNextDataPrice_NestedDuplicatesKeepFirstInSortedOrder(t *testing.T) {
	page := `<html><head>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"product":{
  "analytics":{"price":"$160.00"},
  "offerData":{"price":"$150.00"}
}}}}
</script>
</head><body></body></html>`
	snap := mustSnapshot(t, page)

	for i := 0; i < 50; i++ {
		sale, ok := fromNextDataSalePrice(snap)
		require.True(t, ok)
		require.Equal(t, "$160.00", sale, "the first occurrence along the sorted walk wins every time")
	}
}

func TestExtract_MaxColorsCapsVariants(t *testing.T) {
	e := newTestExtractor()
	_, variants, err := e.Extract(mustSnapshot(t, nextDataPage), Options{MaxColors: 1})

	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "Black", variants[0].Color)
}

func TestExtract_DegenerateCaptureYieldsZeroVariants(t *testing.T) {
	e := newTestExtractor()
	_, variants, err := e.Extract(mustSnapshot(t, `<html><body><p>maintenance</p></body></html>`), Options{})

	require.NoError(t, err, "a degenerate capture is not an error")
	assert.Empty(t, variants)
}

func TestExtract_MissingURLIsInvalidSnapshot(t *testing.T) {
	snap, err := NewSnapshot("", `<html><body><h1>Beta Jacket</h1></body></html>`)
	require.NoError(t, err)

	e := newTestExtractor()
	_, _, err = e.Extract(snap, Options{})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestExtract_SelectedColorHintNamesSyntheticVariant(t *testing.T) {
	page := `<html><body>
<div data-testid="size-selector"><div role="radio">M</div></div>
</body></html>`

	e := newTestExtractor()
	_, variants, err := e.Extract(mustSnapshot(t, page), Options{SelectedColor: "Blue Tetra"})

	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "Blue Tetra", variants[0].Color)
}

func TestExtractSizeChips_DisabledMarkerBeatsQuantityBadge(t *testing.T) {
	page := `<html><body>
<div data-testid="size-selector">
  <div role="radio" disabled data-quantity="3">S</div>
  <div role="radio" class="chip no--stock">M</div>
  <div role="radio" data-quantity="7">L</div>
</div>
</body></html>`

	sizes := extractSizeChips(mustSnapshot(t, page))
	require.Len(t, sizes, 3)

	assert.Equal(t, "S", sizes[0].Label)
	assert.False(t, sizes[0].Available, "disabled wins regardless of quantity badge")
	require.NotNil(t, sizes[0].Quantity)
	assert.Equal(t, 3, *sizes[0].Quantity)

	assert.False(t, sizes[1].Available, "out-of-stock class marks unavailable")

	assert.Equal(t, "L", sizes[2].Label)
	assert.True(t, sizes[2].Available)
	require.NotNil(t, sizes[2].Quantity)
	assert.Equal(t, 7, *sizes[2].Quantity)
}

func TestExtractSizeChips_NormalizesLabels(t *testing.T) {
	page := `<html><body>
<div data-testid="size-selector">
  <div role="radio"> 29 - R </div>
</div>
</body></html>`

	sizes := extractSizeChips(mustSnapshot(t, page))
	require.Len(t, sizes, 1)
	assert.Equal(t, "29R", sizes[0].Label)
}
