package usecase

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"parley/internal/domain"
)

// Store owns the ordered message lists of all open conversations. Fragments
// are routed through the decoder and merged into the single streaming
// message; finalization and stalling are one-way transitions.
//
// All mutation goes through Store methods; the internal mutex serializes
// them, so callers may apply fragments from the transport goroutine while
// the UI reads snapshots.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	policy        *ApprovalPolicy
	bus           domain.EventBus
	logger        *slog.Logger
}

type conversation struct {
	messages []domain.Message
	decoder  *Decoder
}

// NewStore creates a conversation store. bus may be nil when no subscribers
// are interested (tests).
func NewStore(bus domain.EventBus, logger *slog.Logger) *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		bus:           bus,
		logger:        logger,
	}
}

// SetApprovalPolicy installs auto-decision lists for tool approvals. A nil
// policy (the default) leaves every gated invocation to the user.
func (s *Store) SetApprovalPolicy(policy *ApprovalPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
}

// ApplyFragment decodes frag and merges the result into the conversation's
// streaming message, starting a new agent message if none is streaming.
// Fragments arriving after Finalize therefore open a fresh message instead
// of being silently dropped. Malformed fragments are absorbed by the
// decoder; ApplyFragment never fails.
func (s *Store) ApplyFragment(ctx context.Context, conversationID string, frag domain.Fragment) {
	s.mu.Lock()
	conv := s.conversation(conversationID)

	msg := conv.active()
	if msg == nil {
		conv.messages = append(conv.messages, domain.Message{
			ID:        ulid.Make().String(),
			Sender:    domain.SenderAgent,
			Streaming: true,
			CreatedAt: time.Now(),
		})
		msg = &conv.messages[len(conv.messages)-1]
		conv.decoder.Reset()
		s.publishLocked(ctx, domain.EventStreamStarted, conversationID, nil)
	}

	res := conv.decoder.Decode(frag, msg.Units)
	autoDecided := false
	switch res.Action {
	case DecodeAppend:
		if res.Unit.Kind == domain.KindToolInvocation && res.Unit.RequiresApproval {
			if approved, decided := s.policy.Decide(res.Unit.ToolName); decided {
				v := approved
				res.Unit.Approved = &v
				autoDecided = true
			}
		}
		msg.Units = append(msg.Units, res.Unit)
	case DecodeUpdate:
		for i := range msg.Units {
			if msg.Units[i].ID == res.Unit.ID {
				msg.Units[i] = res.Unit
				break
			}
		}
	case DecodeDrop:
		s.mu.Unlock()
		return
	}

	msgID := msg.ID
	unit := res.Unit
	s.mu.Unlock()

	s.publish(ctx, domain.EventStreamDelta, conversationID, domain.StreamDeltaPayload{
		MessageID: msgID,
		UnitID:    unit.ID,
		Kind:      unit.Kind,
	})
	if res.Action == DecodeAppend && unit.RequiresApproval {
		if autoDecided {
			s.publish(ctx, domain.EventToolApprovalResp, conversationID, domain.ApprovalResponsePayload{
				ToolCallID: unit.ToolCallID,
				Approved:   *unit.Approved,
			})
		} else {
			s.publish(ctx, domain.EventToolApprovalReq, conversationID, domain.ApprovalRequestPayload{
				MessageID:  msgID,
				ToolCallID: unit.ToolCallID,
				ToolName:   unit.ToolName,
			})
		}
	}
}

// HandleEnvelope applies a transport envelope: all fragments in order, then
// citations and finalization when the envelope closes the turn.
func (s *Store) HandleEnvelope(ctx context.Context, env domain.Envelope) {
	for _, frag := range env.Fragments {
		s.ApplyFragment(ctx, env.ConversationID, frag)
	}
	if len(env.Citations) > 0 {
		s.AttachCitations(env.ConversationID, env.Citations)
	}
	if env.TurnComplete {
		s.Finalize(ctx, env.ConversationID)
	}
}

// AppendUser records a finalized user message.
func (s *Store) AppendUser(conversationID, text string) domain.Message {
	s.mu.Lock()
	conv := s.conversation(conversationID)
	msg := domain.Message{
		ID:        ulid.Make().String(),
		Sender:    domain.SenderUser,
		CreatedAt: time.Now(),
		Units: []domain.ContentUnit{{
			ID:        newUnitID(),
			Kind:      domain.KindText,
			Timestamp: time.Now(),
			Text:      text,
		}},
	}
	conv.messages = append(conv.messages, msg)
	s.mu.Unlock()

	s.publish(context.Background(), domain.EventMessageAppended, conversationID, domain.StreamDeltaPayload{
		MessageID: msg.ID,
		UnitID:    msg.Units[0].ID,
		Kind:      domain.KindText,
	})
	return msg.Clone()
}

// AttachCitations sets the citation records on the newest agent message.
func (s *Store) AttachCitations(conversationID string, citations []domain.Citation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := len(conv.messages) - 1; i >= 0; i-- {
		if conv.messages[i].Sender == domain.SenderAgent {
			conv.messages[i].References = append(conv.messages[i].References, citations...)
			return
		}
	}
}

// Finalize flips the active streaming message to finalized. The transition
// happens at most once; calling Finalize with no streaming message is a
// no-op.
func (s *Store) Finalize(ctx context.Context, conversationID string) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	msg := conv.active()
	if msg == nil {
		s.mu.Unlock()
		return
	}
	msg.Streaming = false
	conv.decoder.Reset()
	msgID := msg.ID
	s.mu.Unlock()

	s.publish(ctx, domain.EventStreamCompleted, conversationID, domain.StreamDeltaPayload{MessageID: msgID})
}

// OnConnectionState stalls any streaming message when the transport is no
// longer connected. Stalled is terminal: decoded units are preserved and the
// message is never resumed. Wire this to the connection monitor.
func (s *Store) OnConnectionState(state domain.ConnectionState) {
	// Any transition away from connected while a message is streaming is a
	// mid-stream loss; an unexpected drop surfaces as connecting (redial).
	if state.Status == domain.ConnConnected {
		return
	}

	type stalled struct {
		conversationID string
		messageID      string
	}
	var hit []stalled

	s.mu.Lock()
	for id, conv := range s.conversations {
		if msg := conv.active(); msg != nil {
			msg.Streaming = false
			msg.Stalled = true
			conv.decoder.Reset()
			hit = append(hit, stalled{conversationID: id, messageID: msg.ID})
		}
	}
	s.mu.Unlock()

	for _, h := range hit {
		s.logger.Warn("message stalled by transport loss",
			"conversation_id", h.conversationID,
			"message_id", h.messageID,
		)
		s.publish(context.Background(), domain.EventStreamError, h.conversationID, domain.StreamErrorPayload{
			MessageID: h.messageID,
			Error:     state.LastError,
		})
	}
}

// Decide records an approval decision for a gated tool invocation unit.
func (s *Store) Decide(ctx context.Context, conversationID, toolCallID string, approved bool) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return domain.NewDomainError("Store.Decide", domain.ErrConversationNotFound, conversationID)
	}
	found := false
	for i := range conv.messages {
		for j := range conv.messages[i].Units {
			u := &conv.messages[i].Units[j]
			if u.Kind == domain.KindToolInvocation && u.ToolCallID == toolCallID && u.RequiresApproval {
				v := approved
				u.Approved = &v
				found = true
			}
		}
	}
	s.mu.Unlock()

	if !found {
		return domain.NewDomainError("Store.Decide", domain.ErrToolCallNotFound, toolCallID)
	}
	s.publish(ctx, domain.EventToolApprovalResp, conversationID, domain.ApprovalResponsePayload{
		ToolCallID: toolCallID,
		Approved:   approved,
	})
	return nil
}

// PendingApproval returns the oldest undecided approval-gated invocation
// unit, if any. Rendering of the continuation is gated on it.
func (s *Store) PendingApproval(conversationID string) (domain.ContentUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.ContentUnit{}, false
	}
	for _, msg := range conv.messages {
		for _, u := range msg.Units {
			if u.Kind == domain.KindToolInvocation && u.RequiresApproval && u.Approved == nil {
				return u, true
			}
		}
	}
	return domain.ContentUnit{}, false
}

// Messages returns a lazy, restartable read view over the conversation's
// messages. Each iteration sees a consistent snapshot taken when the range
// starts; yielded messages are deep copies.
func (s *Store) Messages(conversationID string) iter.Seq[domain.Message] {
	return func(yield func(domain.Message) bool) {
		s.mu.Lock()
		conv, ok := s.conversations[conversationID]
		var snapshot []domain.Message
		if ok {
			snapshot = make([]domain.Message, 0, len(conv.messages))
			for _, m := range conv.messages {
				snapshot = append(snapshot, m.Clone())
			}
		}
		s.mu.Unlock()

		for _, m := range snapshot {
			if !yield(m) {
				return
			}
		}
	}
}

// Streaming reports whether the conversation currently has a streaming
// message. The follow controller reads this.
func (s *Store) Streaming(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	return ok && conv.active() != nil
}

// conversation returns the tracked conversation, creating it on first use.
// Callers must hold s.mu.
func (s *Store) conversation(id string) *conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &conversation{decoder: NewDecoder(s.logger)}
		s.conversations[id] = conv
	}
	return conv
}

// active returns the streaming message, or nil.
func (c *conversation) active() *domain.Message {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Streaming {
			return &c.messages[i]
		}
	}
	return nil
}

func (s *Store) publish(ctx context.Context, t domain.EventType, conversationID string, payload any) {
	if s.bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal event payload", "type", string(t), "error", err)
			return
		}
		raw = b
	}
	s.bus.Publish(ctx, domain.Event{
		Type:           t,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
		Payload:        raw,
	})
}

// publishLocked is publish for callers holding s.mu; the bus dispatches
// asynchronously so holding the lock is safe.
func (s *Store) publishLocked(ctx context.Context, t domain.EventType, conversationID string, payload any) {
	s.publish(ctx, t, conversationID, payload)
}
