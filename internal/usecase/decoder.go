package usecase

import (
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"parley/internal/domain"
)

// DecodeAction tells the store how to merge a decode result.
type DecodeAction int

const (
	// DecodeDrop means the fragment produced nothing (malformed, unknown
	// kind, or stale index).
	DecodeDrop DecodeAction = iota
	// DecodeAppend carries a new unit to append to the streaming message.
	DecodeAppend
	// DecodeUpdate carries an updated copy of an existing unit, matched by ID.
	DecodeUpdate
)

// DecodeResult is the explicit outcome of decoding one fragment. Decoding
// never returns an error to the caller; bad input decodes to DecodeDrop.
type DecodeResult struct {
	Action DecodeAction
	Unit   domain.ContentUnit
}

// Decoder converts the ordered fragment stream of one conversation turn into
// content units. A decoder tracks the last accepted index for its turn and
// must be Reset between turns.
type Decoder struct {
	lastIndex int
	logger    *slog.Logger
}

// NewDecoder creates a decoder positioned before the first fragment.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{lastIndex: -1, logger: logger}
}

// Reset prepares the decoder for a new streaming turn.
func (d *Decoder) Reset() {
	d.lastIndex = -1
}

// Decode converts one fragment into a decode result, given the units decoded
// so far for the current message.
//
// Fragments with an index below the last accepted index are treated as
// out-of-order duplicates and dropped; already-emitted units are never
// reordered. Text fragments that continue the tail unit (explicit
// ContinuesPrevious flag, or the positional fallback of a repeated index)
// append to it instead of creating a new unit.
func (d *Decoder) Decode(frag domain.Fragment, prior []domain.ContentUnit) DecodeResult {
	if !frag.Kind.Known() {
		d.logger.Warn("dropping unrecognized fragment kind",
			"kind", string(frag.Kind),
			"index", frag.Index,
		)
		return DecodeResult{Action: DecodeDrop}
	}

	if frag.Index < d.lastIndex {
		return DecodeResult{Action: DecodeDrop}
	}
	prevIndex := d.lastIndex
	d.lastIndex = frag.Index

	switch frag.Kind {
	case domain.KindText:
		if tail, ok := tailUnit(prior); ok && tail.Kind == domain.KindText &&
			(frag.ContinuesPrevious || frag.Index == prevIndex) {
			tail.Text += frag.Text
			return DecodeResult{Action: DecodeUpdate, Unit: tail}
		}
		return DecodeResult{Action: DecodeAppend, Unit: domain.ContentUnit{
			ID:        newUnitID(),
			Kind:      domain.KindText,
			Timestamp: time.Now(),
			Text:      frag.Text,
		}}

	case domain.KindToolInvocation:
		// Serialized input can stream across fragments; continuations
		// accumulate onto the open invocation unit.
		if tail, ok := tailUnit(prior); ok && tail.Kind == domain.KindToolInvocation &&
			frag.ContinuesPrevious && (frag.ID == "" || frag.ID == tail.ToolCallID) {
			tail.ToolInput += frag.Input
			return DecodeResult{Action: DecodeUpdate, Unit: tail}
		}
		return DecodeResult{Action: DecodeAppend, Unit: domain.ContentUnit{
			ID:               newUnitID(),
			Kind:             domain.KindToolInvocation,
			Timestamp:        time.Now(),
			ToolName:         frag.Name,
			ToolInput:        frag.Input,
			ToolCallID:       frag.ID,
			RequiresApproval: frag.RequiresApproval,
		}}

	case domain.KindToolResult:
		unit := domain.ContentUnit{
			ID:         newUnitID(),
			Kind:       domain.KindToolResult,
			Timestamp:  time.Now(),
			Text:       frag.Text,
			ToolCallID: frag.ID,
		}
		if frag.ID == "" || !hasInvocation(prior, frag.ID) {
			// No matching invocation; keep the result as a standalone unit.
			d.logger.Debug("tool result without matching invocation",
				"tool_call_id", frag.ID,
			)
			unit.ToolCallID = ""
		}
		return DecodeResult{Action: DecodeAppend, Unit: unit}

	case domain.KindImage:
		return DecodeResult{Action: DecodeAppend, Unit: domain.ContentUnit{
			ID:        newUnitID(),
			Kind:      domain.KindImage,
			Timestamp: time.Now(),
			ImageData: frag.ImageData,
			MimeType:  frag.MimeType,
		}}

	case domain.KindDocument:
		return DecodeResult{Action: DecodeAppend, Unit: domain.ContentUnit{
			ID:        newUnitID(),
			Kind:      domain.KindDocument,
			Timestamp: time.Now(),
			Filename:  frag.Filename,
		}}
	}

	return DecodeResult{Action: DecodeDrop}
}

func tailUnit(units []domain.ContentUnit) (domain.ContentUnit, bool) {
	if len(units) == 0 {
		return domain.ContentUnit{}, false
	}
	return units[len(units)-1], true
}

func hasInvocation(units []domain.ContentUnit, toolCallID string) bool {
	for _, u := range units {
		if u.Kind == domain.KindToolInvocation && u.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}

func newUnitID() string {
	return ulid.Make().String()
}
