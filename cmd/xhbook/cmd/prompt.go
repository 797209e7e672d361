package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter asks the user for values the flags did not provide.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// set when input comes from an interactive terminal
	fd int
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.ErrOrStderr(),
		fd:  -1,
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

func (p *prompter) line() (string, error) {
	text, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && text != "") {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Ask shows the prompt, an empty answer keeps the fallback.
func (p *prompter) Ask(prompt, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, fallback)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}
	answer, err := p.line()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return fallback, nil
	}
	return answer, nil
}

// Secret reads without echo when attached to a terminal.
func (p *prompter) Secret(prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	if p.fd < 0 {
		return p.line()
	}
	raw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Confirm asks a yes/no question.
func (p *prompter) Confirm(prompt string, fallback bool) (bool, error) {
	hint := "y/N"
	if fallback {
		hint = "Y/n"
	}
	fmt.Fprintf(p.out, "%s (%s): ", prompt, hint)
	answer, err := p.line()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return fallback, nil
}
