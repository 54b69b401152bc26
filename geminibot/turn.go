package geminibot

import (
	"log/slog"
	"strings"
)

// Role identifies the author of a conversation turn, using the role
// names the Gemini API expects.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is a single content fragment of a turn: either text, or inline
// media (image, audio or document bytes with their MIME type).
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// IsMedia reports whether the part carries inline media rather than text.
func (p Part) IsMedia() bool {
	return p.MIMEType != ""
}

// TextPart returns a text-only Part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// MediaPart returns an inline media Part.
func MediaPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Turn is one message in a conversation: a role plus an ordered sequence
// of content fragments. Turns are immutable once stored.
type Turn struct {
	Role  Role
	Parts []Part
}

// NewTextTurn returns a turn with a single text part.
func NewTextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{TextPart(text)}}
}

// HasMedia reports whether any part of the turn is inline media.
// Media turns are sent to the API but never persisted, since the API
// cannot recall inline media across requests.
func (t Turn) HasMedia() bool {
	for _, p := range t.Parts {
		if p.IsMedia() {
			return true
		}
	}
	return false
}

// Text returns the concatenated text parts of the turn.
func (t Turn) Text() string {
	texts := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		if !p.IsMedia() {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (t Turn) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("role", string(t.Role)),
		slog.Int("parts", len(t.Parts)),
		slog.Bool("media", t.HasMedia()),
		slog.String("text", truncate(t.Text(), 100)),
	)
}

// templateTurns converts configured seed turns into domain turns.
func templateTurns(template []TemplateTurn) []Turn {
	turns := make([]Turn, 0, len(template))
	for _, t := range template {
		turns = append(turns, NewTextTurn(Role(t.Role), t.Text))
	}
	return turns
}
