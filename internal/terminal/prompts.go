package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Prompter asks questions on an input/output pair. Interactive is false
// when there is nobody to answer; every prompt then returns its default.
type Prompter struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool

	reader *bufio.Reader
}

// NewPrompter returns a Prompter on stdin/stdout.
func NewPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout, Interactive: IsTerminal()}
}

// PromptChoice displays a numbered menu and returns the selected index (0-based).
// The prompt includes a default option that is selected if the user presses Enter.
func (p *Prompter) PromptChoice(question string, options []string, defaultIndex int) (int, error) {
	if !p.Interactive {
		return defaultIndex, nil
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		fmt.Fprintf(p.Out, "  %d. %s\n", i+1, opt)
	}

	for {
		fmt.Fprintf(p.Out, "Selection [%d]: ", defaultIndex+1)
		input, err := p.reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)

		// Default selection
		if input == "" {
			return defaultIndex, nil
		}

		// Parse selection
		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(options) {
			fmt.Fprintf(p.Out, "Please enter a number between 1 and %d\n", len(options))
			continue
		}

		return num - 1, nil
	}
}

// Recovery is the user's answer to a failed build.
type Recovery int

const (
	Abort Recovery = iota
	Retry
	Rebuild
)

func (r Recovery) String() string {
	switch r {
	case Retry:
		return "retry"
	case Rebuild:
		return "rebuild"
	default:
		return "abort"
	}
}

// PromptRecovery asks how to continue after a failed build. Without a
// terminal the answer is Abort.
func (p *Prompter) PromptRecovery(failure string) (Recovery, error) {
	options := []string{
		"Abort",
		"Retry the build",
		"Rebuild from scratch (ignore cached images)",
	}
	choice, err := p.PromptChoice(fmt.Sprintf("Build failed: %s\nWhat would you like to do?", failure), options, 0)
	if err != nil {
		return Abort, err
	}
	return Recovery(choice), nil
}
