package llm

import (
	"strings"
)

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// Ordered so that longer prefixes are matched before shorter ones.
var modelPrices = []struct {
	prefix string
	price  price
}{
	{"claude-3-5-sonnet", price{3.00, 15.00}},
	{"claude-3-5-haiku", price{0.80, 4.00}},
	{"claude-3-opus", price{15.00, 75.00}},
	{"claude-3-sonnet", price{3.00, 15.00}},
	{"claude-3-haiku", price{0.25, 1.25}},
	{"gpt-4o-mini", price{0.15, 0.60}},
	{"gpt-4o", price{2.50, 10.00}},
	{"gpt-4-turbo", price{10.00, 30.00}},
	{"gpt-3.5-turbo", price{0.50, 1.50}},
}

// EstimateCost returns the USD cost of a call. Unknown models cost zero.
func EstimateCost(model string, tokensIn, tokensOut int) float64 {
	for _, mp := range modelPrices {
		if strings.HasPrefix(model, mp.prefix) {
			return (float64(tokensIn)*mp.price.input + float64(tokensOut)*mp.price.output) / 1_000_000
		}
	}
	return 0
}
