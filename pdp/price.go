package pdp

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	moneyRe   = regexp.MustCompile(`[$€£]\s?\d+[\d,.]*`)
	percentRe = regexp.MustCompile(`(\d{1,2})%`)
	// Financing/BNPL lines carry smaller dollar amounts that would poison
	// the min/max assignment.
	financingRe = regexp.MustCompile(`(?i)payments?|klarna|afterpay|affirm|interest`)
)

// PriceBlock is the result of parsing a visible price-block text: up to two
// money tokens and a percent token, all preserved verbatim.
type PriceBlock struct {
	ListPrice *string
	SalePrice *string
	Discount  *string
}

// ParsePriceBlock applies the price-block policy to a run of visible text:
// exactly one money token becomes the sale price; with two or more, the
// largest becomes the list price and the smallest the sale price; a percent
// token becomes the discount verbatim, never recomputed from the prices.
func ParsePriceBlock(text string) PriceBlock {
	cleaned := stripFinancingLines(text)

	var block PriceBlock
	moneys := moneyRe.FindAllString(cleaned, -1)
	switch {
	case len(moneys) == 1:
		sale := moneys[0]
		block.SalePrice = &sale
	case len(moneys) >= 2:
		list, sale := moneys[0], moneys[0]
		listVal, saleVal := moneyValue(list), moneyValue(sale)
		for _, m := range moneys[1:] {
			v := moneyValue(m)
			if v > listVal {
				list, listVal = m, v
			}
			if v < saleVal {
				sale, saleVal = m, v
			}
		}
		block.ListPrice = &list
		block.SalePrice = &sale
	}

	if m := percentRe.FindStringSubmatch(cleaned); m != nil {
		disc := m[1] + "%"
		block.Discount = &disc
	}
	return block
}

func stripFinancingLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || financingRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

// moneyValue parses the numeric part of a money token for ordering only; the
// token itself is always carried verbatim.
func moneyValue(token string) float64 {
	var b strings.Builder
	for _, r := range token {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
