package domain

// Kind identifies the variant of a fragment or content unit.
type Kind string

const (
	KindText           Kind = "text"
	KindToolInvocation Kind = "tool_invocation"
	KindToolResult     Kind = "tool_result"
	KindImage          Kind = "image"
	KindDocument       Kind = "document"
)

// Known reports whether k is one of the recognized kinds.
func (k Kind) Known() bool {
	switch k {
	case KindText, KindToolInvocation, KindToolResult, KindImage, KindDocument:
		return true
	}
	return false
}

// Fragment is one atomic unit of a streamed message as delivered by the
// transport. Within a streaming turn fragments arrive in non-decreasing
// Index order; text fragments sharing an index are incremental deltas.
type Fragment struct {
	Kind  Kind `json:"kind"`
	Index int  `json:"index"`

	// ContinuesPrevious marks this fragment as an explicit continuation of
	// the previous unit of the same kind. Peers that do not set it fall back
	// to positional inference (same index, same kind).
	ContinuesPrevious bool `json:"continues_previous,omitempty"`

	Text             string `json:"text,omitempty"`
	Name             string `json:"name,omitempty"`
	Input            string `json:"input,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`

	// ID correlates tool_result fragments to the tool_invocation that
	// produced them.
	ID string `json:"id,omitempty"`

	ImageData []byte `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// Envelope is the wire frame the transport delivers: a batch of fragments
// plus turn metadata. Citations only appear on turn boundaries.
type Envelope struct {
	ConversationID string     `json:"conversation_id"`
	Fragments      []Fragment `json:"fragments"`
	NodeID         string     `json:"node_id,omitempty"`
	Step           int        `json:"step,omitempty"`
	IsImage        bool       `json:"is_image,omitempty"`
	TurnComplete   bool       `json:"turn_complete,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
}

// Citation is a reference record attached to a finished turn. Reference is
// an opaque storage URI resolved lazily through the resolution cache.
type Citation struct {
	Title     string `json:"title,omitempty"`
	Reference string `json:"reference"`
}
