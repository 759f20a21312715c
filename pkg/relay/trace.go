package relay

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

// MaxTraceDepth bounds the trace walk.
const MaxTraceDepth = 32

var (
	usageContainers = []string{"usage", "tokenusage", "tokens"}
	inputAliases    = []string{"inputtokens", "input", "prompttokens", "prompt", "input_token_count"}
	outputAliases   = []string{"outputtokens", "output", "completiontokens", "completion", "output_token_count"}
	totalAliases    = []string{"totaltokens", "total", "total_token_count"}
)

// FindUsage walks a decoded trace tree depth first, parents before
// children and map keys in sorted order, and returns the counters of the
// first usage-like object it meets. Nodes deeper than maxDepth are not
// visited.
func FindUsage(tree any, maxDepth int) (*model.TokenUsage, bool) {
	return findUsage(tree, 0, maxDepth)
}

func findUsage(node any, depth, maxDepth int) (*model.TokenUsage, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !containsFold(usageContainers, k) {
				continue
			}
			if obj, ok := v[k].(map[string]any); ok {
				if u := usageFromObject(obj); u != nil {
					return u, true
				}
			}
		}
		for _, k := range keys {
			if u, ok := findUsage(v[k], depth+1, maxDepth); ok {
				return u, true
			}
		}
	case []any:
		for _, child := range v {
			if u, ok := findUsage(child, depth+1, maxDepth); ok {
				return u, true
			}
		}
	}
	return nil, false
}

func usageFromObject(obj map[string]any) *model.TokenUsage {
	in := lookupCount(obj, inputAliases)
	out := lookupCount(obj, outputAliases)
	total := lookupCount(obj, totalAliases)
	if in == nil && out == nil && total == nil {
		return nil
	}
	return &model.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: total}
}

// lookupCount returns the first alias, in alias order, that holds a usable
// count. Keys are compared case-insensitively.
func lookupCount(obj map[string]any, aliases []string) *int64 {
	for _, alias := range aliases {
		for k, raw := range obj {
			if !strings.EqualFold(k, alias) {
				continue
			}
			if n, ok := toCount(raw); ok {
				return &n
			}
		}
	}
	return nil
}

func toCount(raw any) (int64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(math.Floor(f)), true
}

func containsFold(list []string, key string) bool {
	for _, item := range list {
		if strings.EqualFold(item, key) {
			return true
		}
	}
	return false
}

// sumTraceUsage adds the first usage object found in each trace payload.
// It reports false when no payload carried usage.
func sumTraceUsage(traces []any) (*model.TokenUsage, bool) {
	var (
		found          bool
		in, out, total int64
		hasIn, hasOut  bool
		hasTotal       bool
	)
	for _, tr := range traces {
		u, ok := FindUsage(tr, MaxTraceDepth)
		if !ok {
			continue
		}
		found = true
		if u.InputTokens != nil {
			in += *u.InputTokens
			hasIn = true
		}
		if u.OutputTokens != nil {
			out += *u.OutputTokens
			hasOut = true
		}
		if u.TotalTokens != nil {
			total += *u.TotalTokens
			hasTotal = true
		}
	}
	if !found {
		return nil, false
	}
	u := &model.TokenUsage{}
	if hasIn {
		u.InputTokens = &in
	}
	if hasOut {
		u.OutputTokens = &out
	}
	if hasTotal {
		u.TotalTokens = &total
	}
	return u, true
}
