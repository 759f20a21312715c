package usage

import (
	"math"
	"strings"
	"unicode/utf8"
)

// EstimateTokens guesses a token count from character length. Korean text
// averages about two characters per token and English about four; anything
// other than "en" uses the denser ratio. The result is never below one.
func EstimateTokens(text, lang string) int64 {
	div := 2.0
	if strings.EqualFold(strings.TrimSpace(lang), "en") {
		div = 4.0
	}
	chars := utf8.RuneCountInString(text)
	n := int64(math.Ceil(float64(chars) / div))
	if n < 1 {
		n = 1
	}
	return n
}

// Pricing holds USD prices per 1,000 tokens.
type Pricing struct {
	InputPer1K  float64 `json:"priceIn"`
	OutputPer1K float64 `json:"priceOut"`
}

// CostEstimate projects the average request cost of a summary window.
type CostEstimate struct {
	Window          int     `json:"window"`
	Count           int     `json:"count"`
	AvgInputTokens  float64 `json:"avgInputTokens"`
	AvgOutputTokens float64 `json:"avgOutputTokens"`
	Pricing         Pricing `json:"pricing"`
	PerRequest      float64 `json:"perRequest"`
	Requests        int     `json:"requests"`
	Period          float64 `json:"period"`
}

// Estimate prices the averages of sum. Negative or non-finite prices count
// as zero and a negative request count as none.
func Estimate(sum Summary, p Pricing, requests int) CostEstimate {
	p.InputPer1K = nonNegative(p.InputPer1K)
	p.OutputPer1K = nonNegative(p.OutputPer1K)
	if requests < 0 {
		requests = 0
	}
	per := sum.AvgInputTokens/1000*p.InputPer1K + sum.AvgOutputTokens/1000*p.OutputPer1K
	return CostEstimate{
		Window:          sum.Window,
		Count:           sum.Count,
		AvgInputTokens:  sum.AvgInputTokens,
		AvgOutputTokens: sum.AvgOutputTokens,
		Pricing:         p,
		PerRequest:      per,
		Requests:        requests,
		Period:          per * float64(requests),
	}
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
