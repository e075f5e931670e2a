package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptChoice(t *testing.T) {
	options := []string{"first", "second", "third"}

	tests := []struct {
		name    string
		input   string
		want    int
		retries int
	}{
		{"default on enter", "\n", 1, 0},
		{"explicit choice", "3\n", 2, 0},
		{"surrounding space", "  1 \n", 0, 0},
		{"out of range then valid", "4\n0\n1\n", 0, 2},
		{"not a number then default", "two\n\n", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := &Prompter{In: strings.NewReader(tt.input), Out: &out, Interactive: true}

			got, err := p.PromptChoice("Pick one", options, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Pick one\n  1. first\n  2. second\n  3. third\n")
			assert.Equal(t, tt.retries, strings.Count(out.String(), "Please enter a number between 1 and 3"))
			assert.Equal(t, tt.retries+1, strings.Count(out.String(), "Selection [2]: "))
		})
	}
}

func TestPromptChoice_NonInteractiveReturnsDefault(t *testing.T) {
	var out bytes.Buffer
	p := &Prompter{In: strings.NewReader("3\n"), Out: &out}

	got, err := p.PromptChoice("Pick one", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Empty(t, out.String())
}

func TestPromptChoice_InputEnds(t *testing.T) {
	p := &Prompter{In: strings.NewReader("9\n"), Out: &bytes.Buffer{}, Interactive: true}
	_, err := p.PromptChoice("Pick one", []string{"a"}, 0)
	assert.ErrorContains(t, err, "failed to read input")
}

func TestPromptRecovery(t *testing.T) {
	tests := []struct {
		input string
		want  Recovery
	}{
		{"\n", Abort},
		{"1\n", Abort},
		{"2\n", Retry},
		{"3\n", Rebuild},
		{"7\n2\n", Retry},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := &Prompter{In: strings.NewReader(tt.input), Out: &out, Interactive: true}

		got, err := p.PromptRecovery("phase \"repos\" failed")
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.True(t, strings.HasPrefix(out.String(), "Build failed: phase \"repos\" failed\nWhat would you like to do?\n"))
	}

	got, err := (&Prompter{Out: &bytes.Buffer{}}).PromptRecovery("boom")
	require.NoError(t, err)
	assert.Equal(t, Abort, got)

	got, err = (&Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}, Interactive: true}).PromptRecovery("boom")
	assert.Error(t, err)
	assert.Equal(t, Abort, got)
}

func TestRecoveryString(t *testing.T) {
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "rebuild", Rebuild.String())
}
