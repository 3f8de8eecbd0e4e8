package sanitize

import (
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"", "ugc", "UGC", " strict "} {
		s, err := New(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, s.Policy())
	}

	_, err := New("anything-goes")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestClean(t *testing.T) {
	testCases := []struct {
		name     string
		policy   string
		input    string
		expected string
	}{
		{"empty", PolicyUGC, "", ""},
		{"plain text", PolicyUGC, "Bob", "Bob"},
		{"ugc keeps bold", PolicyUGC, "<b>Bob</b>", "<b>Bob</b>"},
		{"strict drops bold", PolicyStrict, "<b>Bob</b>", "Bob"},
		{"script removed", PolicyUGC, "<script>alert(1)</script>Bob", "Bob"},
		{"event handler removed", PolicyUGC, `<b onclick="x()">Bob</b>`, "<b>Bob</b>"},
		{"javascript href removed", PolicyUGC, `<a href="javascript:alert(1)">Bob</a>`, "Bob"},
		{"nfc normalized", PolicyStrict, "Jose\u0301", "Jos\u00e9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, s.Clean(tc.input))
		})
	}
}

var fragments = []interface{}{
	"<script>", "</script>", "<b>", "</b>", "<em>", "</em>",
	`<img src=x onerror=alert(1)>`, `<a href="javascript:alert(1)">`, `<a href="https://example.com">`, "</a>",
	`<div onclick="steal()">`, "</div>", "<style>", "</style>", `<svg onload=alert(1)>`,
	`<iframe src="//evil">`, "<!--", "-->",
	"Bob", "hello", " ", "&", "<", ">", `"`, "'", "é",
}

func genMarkup() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf(fragments...), reflect.TypeOf("")).Map(func(parts []string) string {
		return strings.Join(parts, "")
	})
}

// hasExecutableMarkup reports any script element or on* attribute.
func hasExecutableMarkup(s string) bool {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return z.Err() != io.EOF
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "script" {
				return true
			}
			for _, attr := range tok.Attr {
				if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
					return true
				}
			}
		}
	}
}

func TestCleanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	for _, policy := range []string{PolicyUGC, PolicyStrict} {
		s, err := New(policy)
		require.NoError(t, err)

		properties.Property(policy+": output has no script or event handlers", prop.ForAll(
			func(input string) bool {
				return !hasExecutableMarkup(s.Clean(input))
			},
			genMarkup(),
		))

		properties.Property(policy+": clean is idempotent", prop.ForAll(
			func(input string) bool {
				once := s.Clean(input)
				return s.Clean(once) == once
			},
			genMarkup(),
		))
	}

	properties.TestingRun(t)
}
