package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errUnterminatedQuote = errors.New("unterminated quote")

// runShell reads commands line by line, keeping one Messenger alive so
// connections survive between commands. It returns as soon as ctx is done,
// even while waiting for input.
func (a *app) runShell(ctx context.Context, in io.Reader) error {
	if _, err := a.messenger(); err != nil {
		return a.fail(err)
	}

	handlers := make(map[string]handler)
	for _, c := range a.commands() {
		handlers[c.name] = c.run
	}

	stop := make(chan struct{})
	defer close(stop)
	lines, readErr := readLines(in, stop)

	fmt.Fprintln(a.out, "blemsg shell. Type 'help' for commands, 'exit' to quit.")
	for {
		fmt.Fprint(a.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-readErr
			}
			line = l
		}

		fields, err := splitLine(line)
		if err != nil {
			fmt.Fprintf(a.errOut, "error: %v\n", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}

		switch name := fields[0]; name {
		case "exit", "quit":
			return nil
		case "help":
			a.printShellHelp()
		default:
			h, ok := handlers[name]
			if !ok {
				fmt.Fprintf(a.errOut, "error: unknown command %q\n", name)
				continue
			}
			if err := h(ctx, fields[1:]); err != nil {
				return err
			}
		}
	}
}

// readLines scans in on its own goroutine. lines is closed at EOF, after
// the scanner error (nil at clean EOF) has been sent on errc. The goroutine
// stops delivering once stop is closed; a read already blocked on in is
// abandoned.
func readLines(in io.Reader, stop <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()
	return lines, errc
}

func (a *app) printShellHelp() {
	fmt.Fprintln(a.out, "Commands:")
	for _, c := range a.commands() {
		fmt.Fprintf(a.out, "  %-28s %s\n", c.usage, c.short)
	}
	fmt.Fprintf(a.out, "  %-28s %s\n", "exit", "Disconnect everything and quit")
}

// splitLine splits a shell line on whitespace. Double or single quotes
// group words; a backslash escapes the next character.
func splitLine(line string) ([]string, error) {
	var (
		fields  []string
		cur     strings.Builder
		inField bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inField = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inField = true
		case r == ' ' || r == '\t':
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inField {
		fields = append(fields, cur.String())
	}
	return fields, nil
}
