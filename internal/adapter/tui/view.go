package tui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"parley/internal/adapter/transport"
	"parley/internal/domain"
)

const maxAttemptsForDisplay = transport.MaxReconnectAttempts

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.approval != nil {
		b.WriteString(approvalStyle.Render(fmt.Sprintf(
			"Allow tool %q? (y/n)", m.approval.ToolName,
		)))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

// renderConversation renders the store's messages and collects every storage
// reference the output depends on, so the caller can resolve them lazily.
func (m *Model) renderConversation() (string, []string) {
	var b strings.Builder
	var refs []string

	for msg := range m.deps.Store.Messages(m.deps.ConversationID) {
		b.WriteString(m.renderMessage(msg, &refs))
		b.WriteString("\n")
	}
	return b.String(), refs
}

func (m *Model) renderMessage(msg domain.Message, refs *[]string) string {
	var b strings.Builder

	switch msg.Sender {
	case domain.SenderUser:
		b.WriteString(userStyle.Render("You"))
	default:
		label := "Agent"
		if msg.Streaming {
			label = m.spin.View() + " Agent"
		}
		b.WriteString(agentStyle.Render(label))
	}
	b.WriteString("\n")

	for _, unit := range msg.Units {
		b.WriteString(m.renderUnit(msg, unit, refs))
	}

	if msg.Stalled {
		b.WriteString(stalledStyle.Render("— interrupted —"))
		b.WriteString("\n")
	}

	for _, cit := range msg.References {
		b.WriteString(m.renderCitation(cit, refs))
	}
	return b.String()
}

func (m *Model) renderUnit(msg domain.Message, unit domain.ContentUnit, refs *[]string) string {
	switch unit.Kind {
	case domain.KindText:
		if msg.Sender == domain.SenderAgent && m.renderer != nil && !msg.Streaming {
			if out, err := m.renderer.Render(unit.Text); err == nil {
				return out
			}
		}
		return unit.Text + "\n"

	case domain.KindToolInvocation:
		line := fmt.Sprintf("⚙ %s(%s)", unit.ToolName, truncate(unit.ToolInput, 80))
		switch {
		case unit.RequiresApproval && unit.Approved == nil:
			line += " [awaiting approval]"
		case unit.Approved != nil && !*unit.Approved:
			line += " [denied]"
		}
		return toolStyle.Render(line) + "\n"

	case domain.KindToolResult:
		return toolStyle.Render("→ "+truncate(unit.Text, 200)) + "\n"

	case domain.KindImage:
		return citationStyle.Render(fmt.Sprintf("[image %s, %d bytes]", unit.MimeType, len(unit.ImageData))) + "\n"

	case domain.KindDocument:
		return citationStyle.Render(fmt.Sprintf("[document: %s]", unit.Filename)) + "\n"
	}
	return ""
}

func (m *Model) renderCitation(cit domain.Citation, refs *[]string) string {
	label := cit.Title
	if label == "" {
		label = cit.Reference
	}

	var target string
	if url, ok := m.resolved[cit.Reference]; ok {
		target = url
	} else if errMsg, ok := m.failed[cit.Reference]; ok {
		target = "unavailable (" + errMsg + ") — ctrl+r to retry"
	} else {
		target = "resolving..."
		*refs = append(*refs, cit.Reference)
	}
	return citationStyle.Render(fmt.Sprintf("• %s: %s", label, target)) + "\n"
}

func (m *Model) statusLine() string {
	state := m.connState
	var status string
	switch state.Status {
	case domain.ConnConnected:
		status = statusConnected.Render("● connected")
	case domain.ConnConnecting:
		status = statusDegraded.Render(fmt.Sprintf("◌ connecting (attempt %d)", state.ReconnectAttempts+1))
	case domain.ConnError:
		status = statusDegraded.Render(fmt.Sprintf("◌ retrying (%d/%d)", state.ReconnectAttempts, maxAttemptsForDisplay))
	default:
		if state.ReconnectAttempts >= maxAttemptsForDisplay {
			status = statusDown.Render("✗ disconnected — ctrl+r to reconnect")
		} else {
			status = statusDown.Render("✗ disconnected")
		}
	}

	if m.notice != "" {
		status += "  " + citationStyle.Render(m.notice)
	}
	return status
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
