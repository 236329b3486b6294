package domain

import "time"

// Sender constants for message attribution.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// ContentUnit is a decoded, renderable piece of a message. Units are mutable
// only while their owning message is streaming; after finalization they are
// treated as immutable.
type ContentUnit struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Text accumulates streamed deltas for KindText, and carries the result
	// body for KindToolResult.
	Text string `json:"text,omitempty"`

	ToolName         string `json:"tool_name,omitempty"`
	ToolInput        string `json:"tool_input,omitempty"`
	ToolCallID       string `json:"tool_call_id,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
	// Approved is nil while an approval-gated invocation awaits a decision.
	Approved *bool `json:"approved,omitempty"`

	ImageData []byte `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// Message is an ordered list of content units from one sender.
//
// At most one message per conversation has Streaming=true. A message
// transitions streaming -> finalized exactly once; Stalled is a terminal
// substate of finalized reached when the transport drops mid-stream.
type Message struct {
	ID         string        `json:"id"`
	Sender     string        `json:"sender"`
	Units      []ContentUnit `json:"units"`
	Streaming  bool          `json:"streaming"`
	Stalled    bool          `json:"stalled,omitempty"`
	References []Citation    `json:"references,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the message so read views never alias
// store-owned slices.
func (m Message) Clone() Message {
	out := m
	out.Units = make([]ContentUnit, len(m.Units))
	copy(out.Units, m.Units)
	if m.References != nil {
		out.References = make([]Citation, len(m.References))
		copy(out.References, m.References)
	}
	return out
}
