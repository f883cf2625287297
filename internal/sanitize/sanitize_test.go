package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean id passes through", input: "wf-42", want: "wf-42"},
		{name: "case is preserved", input: "Run7B", want: "Run7B"},
		{name: "dots become underscores", input: "run.7.final", want: "run_7_final"},
		{name: "spaces become underscores", input: "run 7", want: "run_7"},
		{name: "wildcards are replaced", input: "wf*>x", want: "wf_x"},
		{name: "runs collapse", input: "wf...7", want: "wf_7"},
		{name: "edges are trimmed", input: ".wf-9.", want: "wf-9"},
		{name: "empty input", input: "", want: DefaultToken},
		{name: "nothing survives", input: "...", want: DefaultToken},
		{name: "unicode is replaced", input: "wfé7", want: "wf_7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Token(tt.input))
		})
	}
}

func TestTokenTruncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := Token(long)

	assert.LessOrEqual(t, len(got), MaxTokenLength)
	assert.True(t, strings.HasPrefix(got, "aaaa"))

	// Distinct long inputs keep distinct tokens.
	other := Token(strings.Repeat("a", 199) + "b")
	assert.NotEqual(t, got, other)
}

func TestTokenNeverEmitsSubjectSyntax(t *testing.T) {
	inputs := []string{"a.b.c", "a b c", "*", ">", "a>*b", "\t\n"}
	for _, in := range inputs {
		got := Token(in)
		assert.NotContains(t, got, ".", "input %q", in)
		assert.NotContains(t, got, " ", "input %q", in)
		assert.NotContains(t, got, "*", "input %q", in)
		assert.NotContains(t, got, ">", "input %q", in)
		assert.NotEmpty(t, got, "input %q", in)
	}
}
