package model

// TokenUsage records the token counters an upstream call reported. Nil
// fields were not reported.
type TokenUsage struct {
	InputTokens  *int64 `json:"inputTokens,omitempty"`
	OutputTokens *int64 `json:"outputTokens,omitempty"`
	TotalTokens  *int64 `json:"totalTokens,omitempty"`
}

// NewTokenUsage builds a fully populated usage value; a zero total is
// derived from input and output.
func NewTokenUsage(input, output, total int64) *TokenUsage {
	if total == 0 {
		total = input + output
	}
	return &TokenUsage{InputTokens: &input, OutputTokens: &output, TotalTokens: &total}
}

// Empty reports whether no counter is present.
func (u *TokenUsage) Empty() bool {
	return u == nil || (u.InputTokens == nil && u.OutputTokens == nil && u.TotalTokens == nil)
}
