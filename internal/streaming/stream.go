// Package streaming implements the cooperative-cancellation streaming
// contract of spec §4.8: a per-call cancel flag checked between tokens, a
// callback triple (on_token/on_complete/on_error) with exactly one terminal
// callback firing, and UTF-8 boundary reassembly for token streams that may
// split a codepoint across two chunks.
//
// The generic [Controller] follows the same pattern as the teacher's
// internal/resilience.FallbackGroup[T]: a small generic type parameterized
// over the payload (string tokens for LLM, [types.Transcript] for STT, PCM
// chunks for TTS) rather than three separate bespoke implementations.
package streaming

import (
	"sync/atomic"
	"unicode/utf8"

	"github.com/runanywhere/racore/pkg/racerr"
)

// Controller coordinates one streaming call's cancel flag and terminal
// callback exactly-once invariant. T is the per-token payload type.
type Controller[T any] struct {
	cancelled atomic.Bool
	done      atomic.Bool
}

// NewController constructs a ready-to-use [Controller].
func NewController[T any]() *Controller[T] {
	return &Controller[T]{}
}

// Cancel requests cancellation. Safe to call concurrently with Run, from any
// goroutine, any number of times (spec §4.8: "both the caller's boolean
// return and a concurrent cancel call set it").
func (c *Controller[T]) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been requested, either via
// [Controller.Cancel] or by onToken returning false on a previous emission.
func (c *Controller[T]) Cancelled() bool {
	return c.cancelled.Load()
}

// Run drives produce, which must call emit for each token it generates in
// strict issue order and stop generating as soon as emit returns false.
// Run guarantees exactly one of onComplete/onError fires, after the last
// onToken call, even if produce itself panics-free-returns an error or
// the stream is cancelled mid-flight.
func (c *Controller[T]) Run(onToken func(T) bool, onComplete func(), onError func(error), produce func(emit func(T) bool) error) {
	emit := func(v T) bool {
		if c.cancelled.Load() {
			return false
		}
		if !onToken(v) {
			c.cancelled.Store(true)
			return false
		}
		return true
	}

	err := produce(emit)

	if c.done.Swap(true) {
		return // defensive: terminal callback already fired by an earlier Run on this Controller
	}
	switch {
	case err != nil:
		onError(err)
	case c.cancelled.Load():
		onError(racerr.New(racerr.Cancelled, "streaming", "run", "stream cancelled", 0))
	default:
		onComplete()
	}
}

// UTF8Reassembler buffers unverified trailing bytes from a byte-oriented
// token stream so that a multi-byte codepoint split across two chunks is
// never delivered as invalid UTF-8. It validates using
// [unicode/utf8.FullRune], the standard library's UTF-8 boundary check,
// rather than a hand-rolled decoding table.
//
// Not safe for concurrent use; one instance per in-flight stream.
type UTF8Reassembler struct {
	tail []byte
}

// Feed appends chunk to any buffered tail bytes and returns the longest
// prefix that is valid, complete UTF-8; any trailing incomplete sequence is
// retained internally and prepended to the next Feed call.
//
// A truncated multi-byte sequence is at most 3 bytes (a 4-byte codepoint
// missing its last byte), so only suffixes up to length 3 need checking.
// [utf8.FullRune] keys off the suffix's leading byte, so checking
// misaligned windows either correctly reports "incomplete" (when the window
// happens to start exactly at the truncated sequence) or harmlessly reports
// "full" otherwise; taking the longest incomplete suffix found is safe.
func (r *UTF8Reassembler) Feed(chunk []byte) string {
	buf := append(r.tail, chunk...)
	r.tail = nil

	cut := len(buf)
	for tailLen := 1; tailLen <= 3 && tailLen <= len(buf); tailLen++ {
		if !utf8.FullRune(buf[len(buf)-tailLen:]) {
			cut = len(buf) - tailLen
		}
	}

	r.tail = append(r.tail, buf[cut:]...)
	return string(buf[:cut])
}

// Flush returns any remaining buffered bytes re-decoded with invalid
// trailing bytes dropped, per spec §4.8 ("at end-of-stream any invalid
// trailing bytes are dropped"), and clears the buffer.
func (r *UTF8Reassembler) Flush() string {
	defer func() { r.tail = nil }()
	if len(r.tail) == 0 {
		return ""
	}
	valid := make([]byte, 0, len(r.tail))
	b := r.tail
	for len(b) > 0 {
		rn, size := utf8.DecodeRune(b)
		if rn == utf8.RuneError && size <= 1 {
			b = b[1:]
			continue
		}
		valid = append(valid, b[:size]...)
		b = b[size:]
	}
	return string(valid)
}
