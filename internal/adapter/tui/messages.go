package tui

import (
	"parley/internal/domain"
)

// BusEventMsg wraps a store/monitor event forwarded from the event bus into
// the Bubble Tea loop.
type BusEventMsg struct {
	Event domain.Event
}

// ResolvedMsg carries the outcome of a lazy reference resolution.
type ResolvedMsg struct {
	Reference string
	URL       string
	Err       error
}

// SendFailedMsg reports a failed outbound user message.
type SendFailedMsg struct {
	Err error
}
