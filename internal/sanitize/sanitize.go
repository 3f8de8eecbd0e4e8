// Package sanitize strips markup capable of running script from untrusted
// strings before they reach a template.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
)

// Policy names accepted by New.
const (
	PolicyUGC    = "ugc"
	PolicyStrict = "strict"
)

// Sanitizer cleans user input. It is safe for concurrent use.
type Sanitizer struct {
	name   string
	policy *bluemonday.Policy
}

// New returns a Sanitizer for the named policy. "ugc" keeps harmless
// formatting such as <b> and <em>; "strict" removes every tag.
func New(policy string) (*Sanitizer, error) {
	name := strings.ToLower(strings.TrimSpace(policy))
	if name == "" {
		name = PolicyUGC
	}

	var p *bluemonday.Policy
	switch name {
	case PolicyUGC:
		p = bluemonday.UGCPolicy()
	case PolicyStrict:
		p = bluemonday.StrictPolicy()
	default:
		return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown sanitize policy %q", policy))
	}

	return &Sanitizer{name: name, policy: p}, nil
}

// Policy returns the policy name.
func (s *Sanitizer) Policy() string { return s.name }

// Clean normalizes s to NFC and removes disallowed tags and attributes.
// Clean(Clean(x)) == Clean(x).
func (s *Sanitizer) Clean(input string) string {
	if input == "" {
		return ""
	}
	return s.policy.Sanitize(norm.NFC.String(input))
}
