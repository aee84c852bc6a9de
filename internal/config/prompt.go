package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter collects answers from the operator. Interactive answers are
// applied last in the resolution precedence, so they always win.
type Prompter interface {
	// Ask prompts with a visible default and returns the answer, or the
	// default when the answer is empty.
	Ask(label, fallback string) (string, error)
	// AskSecret prompts with echo suppressed.
	AskSecret(label string) (string, error)
	// CanPrompt reports whether prompting is possible at all.
	CanPrompt() bool
}

// TerminalPrompter reads answers from a terminal, suppressing echo for
// secrets.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) CanPrompt() bool {
	return p.In != nil && term.IsTerminal(int(p.In.Fd()))
}

func (p *TerminalPrompter) Ask(label, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", label, fallback)
	} else {
		fmt.Fprintf(p.Out, "%s: ", label)
	}
	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return fallback, nil
	}
	return answer, nil
}

func (p *TerminalPrompter) AskSecret(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", label)
	secret, err := term.ReadPassword(int(p.In.Fd()))
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(secret), nil
}

// StaticPrompter replays canned answers; used by tests.
type StaticPrompter struct {
	Answers map[string]string
	Secrets []string

	secretIdx int
}

func (p *StaticPrompter) CanPrompt() bool { return true }

func (p *StaticPrompter) Ask(label, fallback string) (string, error) {
	if answer, ok := p.Answers[label]; ok {
		return answer, nil
	}
	return fallback, nil
}

func (p *StaticPrompter) AskSecret(label string) (string, error) {
	if p.secretIdx >= len(p.Secrets) {
		return "", fmt.Errorf("no scripted secret for %q", label)
	}
	secret := p.Secrets[p.secretIdx]
	p.secretIdx++
	return secret, nil
}
