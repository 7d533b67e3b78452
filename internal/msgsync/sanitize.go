package msgsync

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips unsafe markup from a message body before it is shown or
// persisted.
type Sanitizer interface {
	Sanitize(text string) string
}

type strictSanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a sanitizer that removes all markup.
func NewSanitizer() Sanitizer {
	return &strictSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *strictSanitizer) Sanitize(text string) string {
	// The strict policy entity-escapes what it keeps; undo that so plain
	// text like "a < b" survives a round trip.
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}
