package relay

import (
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/event"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

// Rule extracts at most one event from an upstream item.
type Rule func(model.ConverseEvent) (event.Event, bool)

// Rules are tried in order within each group; the first match wins.
var (
	DeltaRules = []Rule{contentBlockText, contentBlockTextDelta, bareDeltaText}
	UsageRules = []Rule{metadataUsage, bareUsage}
	StopRules  = []Rule{messageStopReason, bareStopReason}
)

// Decode normalizes one upstream item. A delta match short-circuits the
// item; otherwise usage and stop are extracted independently, so one item
// may yield both. Items matching nothing yield no events.
func Decode(item model.ConverseEvent) []event.Event {
	if evt, ok := firstMatch(DeltaRules, item); ok {
		return []event.Event{evt}
	}
	var out []event.Event
	if evt, ok := firstMatch(UsageRules, item); ok {
		out = append(out, evt)
	}
	if evt, ok := firstMatch(StopRules, item); ok {
		out = append(out, evt)
	}
	return out
}

func firstMatch(rules []Rule, item model.ConverseEvent) (event.Event, bool) {
	for _, rule := range rules {
		if evt, ok := rule(item); ok {
			return evt, true
		}
	}
	return event.Event{}, false
}

func contentBlockText(item model.ConverseEvent) (event.Event, bool) {
	if item.ContentBlockDelta == nil || item.ContentBlockDelta.Delta == nil {
		return event.Event{}, false
	}
	return textEvent(item.ContentBlockDelta.Delta.Text)
}

func contentBlockTextDelta(item model.ConverseEvent) (event.Event, bool) {
	if item.ContentBlockDelta == nil || item.ContentBlockDelta.Delta == nil {
		return event.Event{}, false
	}
	return textEvent(item.ContentBlockDelta.Delta.TextDelta)
}

func bareDeltaText(item model.ConverseEvent) (event.Event, bool) {
	if item.Delta == nil {
		return event.Event{}, false
	}
	return textEvent(item.Delta.Text)
}

func metadataUsage(item model.ConverseEvent) (event.Event, bool) {
	if item.Metadata == nil {
		return event.Event{}, false
	}
	return usageEvent(item.Metadata.Usage)
}

func bareUsage(item model.ConverseEvent) (event.Event, bool) {
	return usageEvent(item.Usage)
}

func messageStopReason(item model.ConverseEvent) (event.Event, bool) {
	if item.MessageStop == nil || item.MessageStop.StopReason == "" {
		return event.Event{}, false
	}
	return event.Stop(item.MessageStop.StopReason), true
}

func bareStopReason(item model.ConverseEvent) (event.Event, bool) {
	if item.StopReason == "" {
		return event.Event{}, false
	}
	return event.Stop(item.StopReason), true
}

func textEvent(text string) (event.Event, bool) {
	if text == "" {
		return event.Event{}, false
	}
	return event.Delta(text), true
}

func usageEvent(u *model.TokenUsage) (event.Event, bool) {
	if u.Empty() {
		return event.Event{}, false
	}
	return event.Usage(u), true
}
