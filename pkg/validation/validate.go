package validation

import (
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLen bounds both chain titles and reply messages.
const MaxTextLen = 256

var (
	ErrEmpty   = errors.New("text is empty")
	ErrTooLong = errors.New("text exceeds maximum length")
)

// policy keeps the fixed allow-list of rich-text markers. Everything else,
// including attributes, is stripped.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "u")
	return p
}()

// Sanitize strips disallowed markup from raw user text. It does not trim
// or length-check; use Text for the full input contract.
func Sanitize(raw string) string {
	return policy.Sanitize(raw)
}

// Text trims, sanitizes and length-checks raw user input. The returned
// string is safe to hand to the chain aggregate. Inputs empty after
// trimming yield ErrEmpty; inputs longer than MaxTextLen yield ErrTooLong.
func Text(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmpty
	}
	if len([]rune(s)) > MaxTextLen {
		return "", ErrTooLong
	}
	return policy.Sanitize(s), nil
}

// Title validates a chain title. Unlike replies an empty title is valid;
// it renders without a title block.
func Title(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if len([]rune(s)) > MaxTextLen {
		return "", ErrTooLong
	}
	return policy.Sanitize(s), nil
}
