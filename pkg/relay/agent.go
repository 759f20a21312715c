package relay

import (
	"strings"
	"unicode/utf8"
)

// agentAccumulator collects agent chunk text and trace payloads. Chunk
// boundaries may split a multi-byte rune; the incomplete tail is held back
// until the next chunk arrives.
type agentAccumulator struct {
	pending []byte
	text    strings.Builder
	traces  []any
}

func newAgentAccumulator() *agentAccumulator {
	return &agentAccumulator{}
}

// addChunk appends b and returns the newly decodable text.
func (a *agentAccumulator) addChunk(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	buf := append(a.pending, b...)
	cut := completePrefix(buf)
	a.pending = append([]byte(nil), buf[cut:]...)
	text := strings.ToValidUTF8(string(buf[:cut]), "\uFFFD")
	a.text.WriteString(text)
	return text
}

// flush decodes whatever is still held back.
func (a *agentAccumulator) flush() string {
	if len(a.pending) == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(a.pending), "\uFFFD")
	a.pending = nil
	a.text.WriteString(text)
	return text
}

func (a *agentAccumulator) addTrace(payload any) {
	a.traces = append(a.traces, payload)
}

// completePrefix returns the length of buf without a trailing incomplete
// rune. Invalid bytes count as complete so they are replaced right away.
func completePrefix(buf []byte) int {
	n := len(buf)
	for i := 1; i < utf8.UTFMax && i <= n; i++ {
		c := buf[n-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c >= utf8.RuneSelf && !utf8.FullRune(buf[n-i:]) {
			return n - i
		}
		return n
	}
	return n
}
