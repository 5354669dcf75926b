// Package composer turns a completed session into the routing request handed
// to delivery. Composition is a pure function of session state, so retries
// and replays produce byte-identical requests.
package composer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/session"
)

// ErrIncompleteContext is returned when composition is attempted before every
// required slot is filled. It indicates an engine bug, not user error.
var ErrIncompleteContext = errors.New("incomplete context")

// ticketNamespace scopes ticket refs so two deployments sharing a session id
// space still mint distinct refs.
const ticketNamespace = "deskrouter"

// RoutingRequest is the complete, self-contained handoff to a department.
type RoutingRequest struct {
	SessionID      string            `json:"session_id"`
	TicketRef      string            `json:"ticket_ref"`
	DepartmentID   string            `json:"department_id"`
	DepartmentName string            `json:"department_name"`
	RecipientEmail string            `json:"recipient_email"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	HTMLBody       string            `json:"html_body"`
	Priority       string            `json:"priority,omitempty"`
	SlotValues     map[string]string `json:"slot_values"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Composer renders routing requests. The markdown renderer is shared and
// goroutine-safe.
type Composer struct {
	markdown goldmark.Markdown
}

// New creates a Composer.
func New() *Composer {
	return &Composer{
		markdown: goldmark.New(
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// Compose builds the routing request for a READY_TO_SEND session. All
// timestamps derive from the session, never from the clock, so composing the
// same session twice yields identical output.
func (c *Composer) Compose(sess *session.Session, profile *corpus.DepartmentProfile) (*RoutingRequest, error) {
	if sess.State != session.StateReadyToSend {
		return nil, fmt.Errorf("%w: session %s in state %s", ErrIncompleteContext, sess.ID, sess.State)
	}
	for _, slot := range profile.RequiredSlots {
		if !slot.Required {
			continue
		}
		if v, ok := sess.FilledSlots[slot.Key]; !ok || v == "" {
			return nil, fmt.Errorf("%w: slot %s unfilled", ErrIncompleteContext, slot.Key)
		}
	}

	ref := shortuuid.NewWithNamespace(ticketNamespace + ":" + sess.ID)
	body := c.renderBody(sess, profile, ref)
	htmlBody, err := c.renderHTML(body)
	if err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	slots := make(map[string]string, len(sess.FilledSlots))
	for k, v := range sess.FilledSlots {
		slots[k] = v
	}

	return &RoutingRequest{
		SessionID:      sess.ID,
		TicketRef:      ref,
		DepartmentID:   profile.ID,
		DepartmentName: profile.Name,
		RecipientEmail: profile.RoutingEmail,
		Subject:        c.subject(sess, profile, ref),
		Body:           body,
		HTMLBody:       htmlBody,
		Priority:       sess.Priority,
		SlotValues:     slots,
		CreatedAt:      sess.CreatedAt.UTC(),
	}, nil
}

func (c *Composer) subject(sess *session.Session, profile *corpus.DepartmentProfile, ref string) string {
	subject := fmt.Sprintf("[%s] New %s request", ref, profile.Name)
	if sess.Priority != "" {
		subject = fmt.Sprintf("[%s] [%s] New %s request", ref, sess.Priority, profile.Name)
	}
	return subject
}

// renderBody produces the markdown body. Slot values appear in profile
// declaration order; the original query and transcript follow.
func (c *Composer) renderBody(sess *session.Session, profile *corpus.DepartmentProfile, ref string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Routing request %s\n\n", ref)
	fmt.Fprintf(&b, "**Department:** %s\n\n", profile.Name)
	if sess.Priority != "" {
		fmt.Fprintf(&b, "**Priority:** %s\n\n", sess.Priority)
	}
	fmt.Fprintf(&b, "**Session:** %s, opened %s\n\n", sess.ID, sess.CreatedAt.UTC().Format(time.RFC3339))

	if len(profile.RequiredSlots) > 0 {
		b.WriteString("### Collected context\n\n")
		for _, slot := range profile.RequiredSlots {
			v, ok := sess.FilledSlots[slot.Key]
			if !ok || v == "" {
				continue
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", slot.Key, v)
		}
		b.WriteString("\n")
	}

	if first := firstUserText(sess); first != "" {
		b.WriteString("### Original query\n\n")
		b.WriteString(first)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Composer) renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func firstUserText(sess *session.Session) string {
	for _, entry := range sess.Transcript {
		if entry.Role == session.RoleUser {
			return entry.Text
		}
	}
	return ""
}
