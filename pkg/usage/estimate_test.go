package usage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.EqualValues(t, 1, EstimateTokens("", "ko"))
	assert.EqualValues(t, 3, EstimateTokens("안녕하세요", "ko"))
	assert.EqualValues(t, 2, EstimateTokens("hello", "en"))
	assert.EqualValues(t, 3, EstimateTokens("hello", ""))
}

func TestEstimateCost(t *testing.T) {
	sum := Summary{Window: 4, Count: 2, AvgInputTokens: 1000, AvgOutputTokens: 500}
	got := Estimate(sum, Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}, 100)
	assert.InDelta(t, 0.0105, got.PerRequest, 1e-12)
	assert.InDelta(t, 1.05, got.Period, 1e-9)
	assert.Equal(t, 100, got.Requests)
	assert.Equal(t, 4, got.Window)
}

func TestEstimateCostIgnoresInvalidInput(t *testing.T) {
	sum := Summary{Count: 1, AvgInputTokens: 1000, AvgOutputTokens: 1000}
	got := Estimate(sum, Pricing{InputPer1K: math.NaN(), OutputPer1K: -1}, -5)
	assert.Zero(t, got.PerRequest)
	assert.Zero(t, got.Period)
	assert.Zero(t, got.Requests)
	assert.Equal(t, Pricing{}, got.Pricing)
}
