package publish

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user for missing credentials.
type Prompter interface {
	Username() (string, error)
	Password() (string, error)
}

// TerminalPrompter prompts on Out and reads from In. The password is read
// without echo when In is a terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminalPrompter prompts on stderr and reads stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) readLine() (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *TerminalPrompter) Username() (string, error) {
	fmt.Fprintln(p.Out, "Please enter your username:")
	return p.readLine()
}

func (p *TerminalPrompter) Password() (string, error) {
	fmt.Fprint(p.Out, "Please enter your password: ")
	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err == nil {
			return string(password), nil
		}
	}
	// no terminal, e.g. an IDE console
	return p.readLine()
}
