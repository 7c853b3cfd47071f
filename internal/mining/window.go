// Package mining runs the progressive window scheduler: it walks backward from now
// in expanding windows, classifies and extracts each window's new conversations
// through the collaborators, and commits every window as one manifest snapshot.
package mining

import (
	"time"
)

const (
	// FirstWindow is the span of window 0.
	FirstWindow = 12 * time.Hour
	// WindowStep is the span of every later window.
	WindowStep = 24 * time.Hour
	// DefaultMaxDays is the lookback used when none is configured.
	DefaultMaxDays = 30
)

// StopReason says why a run stopped expanding.
type StopReason string

const (
	StopNoNewConversations StopReason = "no_new_conversations"
	StopLowSignificance    StopReason = "low_significance"
	StopMaxLookback        StopReason = "max_lookback"
	StopMaxWindows         StopReason = "max_windows"
	StopAllFailed          StopReason = "all_failed"
	StopCancelled          StopReason = "cancelled"
)

// Normal reports whether r is a regular end of run rather than a failure.
func (r StopReason) Normal() bool {
	switch r {
	case StopNoNewConversations, StopLowSignificance, StopMaxLookback, StopMaxWindows:
		return true
	}
	return false
}

// Window is a half-open time range [Start, End).
type Window struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WindowOptions bounds a sequence.
type WindowOptions struct {
	// MaxDays is the total lookback. 0 means DefaultMaxDays.
	MaxDays int
	// MaxWindows caps the number of windows. 0 means no cap.
	MaxWindows int
}

// WindowSeq lazily yields windows walking backward from now. Each window starts
// where the previous one ended, so no time is covered twice in one pass.
type WindowSeq struct {
	now   time.Time
	floor time.Time
	opts  WindowOptions

	next   int
	edge   time.Time
	reason StopReason
}

// NewWindowSeq returns a sequence anchored at now.
func NewWindowSeq(now time.Time, opts WindowOptions) *WindowSeq {
	if opts.MaxDays <= 0 {
		opts.MaxDays = DefaultMaxDays
	}
	s := &WindowSeq{
		now:   now,
		floor: now.Add(-time.Duration(opts.MaxDays) * 24 * time.Hour),
		opts:  opts,
	}
	s.Reset()
	return s
}

// Reset restarts the sequence at window 0.
func (s *WindowSeq) Reset() {
	s.next = 0
	s.edge = s.now
	s.reason = ""
}

// Next returns the next window, or false once the lookback or window cap is reached.
// After false, Reason reports which limit ended the sequence.
func (s *WindowSeq) Next() (Window, bool) {
	if s.reason != "" {
		return Window{}, false
	}
	if !s.edge.After(s.floor) {
		s.reason = StopMaxLookback
		return Window{}, false
	}
	if s.opts.MaxWindows > 0 && s.next >= s.opts.MaxWindows {
		s.reason = StopMaxWindows
		return Window{}, false
	}

	span := WindowStep
	if s.next == 0 {
		span = FirstWindow
	}
	start := s.edge.Add(-span)
	if start.Before(s.floor) {
		start = s.floor
	}
	w := Window{Index: s.next, Start: start, End: s.edge}
	s.next++
	s.edge = start
	return w, true
}

// Reason is the limit that ended the sequence, or "" while windows remain.
func (s *WindowSeq) Reason() StopReason {
	return s.reason
}

// Floor is the oldest instant the sequence will reach.
func (s *WindowSeq) Floor() time.Time {
	return s.floor
}

// Classified is one conversation with its resolved domain.
type Classified struct {
	ConversationID string `json:"conversation_id"`
	Domain         string `json:"domain"`
}

// Significance is 1 - catchAll/total over a window's classified conversations,
// or 0 when nothing was classified.
func Significance(classified []Classified, catchAll string) float64 {
	if len(classified) == 0 {
		return 0
	}
	misc := 0
	for _, c := range classified {
		if c.Domain == catchAll {
			misc++
		}
	}
	return 1 - float64(misc)/float64(len(classified))
}
