package memory

import (
	"fmt"
	"strings"
	"time"
)

// NewUnit creates a unit stamped with the current time.
// The embedding slice is copied so later changes by the caller cannot leak in.
func NewUnit(id string, typ Type, content string, sessionID string, embedding []float32) *Unit {
	return &Unit{
		ID:        id,
		Content:   content,
		Type:      typ,
		Embedding: append([]float32(nil), embedding...),
		CreatedAt: time.Now().UTC(),
		SessionID: sessionID,
	}
}

// Validate checks the fields every store requires.
func (u *Unit) Validate() error {
	switch {
	case u == nil:
		return fmt.Errorf("%w: nil unit", ErrInvalidUnit)
	case strings.TrimSpace(u.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidUnit)
	case !u.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidUnit, u.Type)
	case strings.TrimSpace(u.Content) == "":
		return fmt.Errorf("%w: empty content", ErrInvalidUnit)
	case len(u.Embedding) == 0:
		return fmt.Errorf("%w: missing embedding", ErrInvalidUnit)
	case u.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created_at", ErrInvalidUnit)
	}
	return nil
}

// Format renders a retrieved memory for prompt injection.
// Content beyond maxLen characters is truncated; maxLen <= 0 disables truncation.
func (r Retrieved) Format(maxLen int) string {
	content := r.Content
	if maxLen > 0 {
		content = truncate(content, maxLen)
	}
	return fmt.Sprintf("[%s | relevance %.4f] %s", r.Type, r.Relevance, content)
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}

// truncateLog truncates text to maxLen runes for logging.
func truncateLog(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
