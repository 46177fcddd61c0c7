package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop runs interactive prompt on terminal, otherwise executes stdin line by line.
// Returns on EOF, Ctrl-D, when exec returns false or stop is closed.
func MainLoop(tag string, exec func(line string) bool, complete func(d prompt.Document) []prompt.Suggest, stop <-chan struct{}) error {
	quit := make(chan struct{})
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		errch := make(chan error, 1)
		go func() { errch <- ScriptLoop(os.Stdin, exec, quit) }()
		select {
		case err := <-errch:
			return err
		case <-stop:
			close(quit)
			return nil
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		prompt.New(
			func(line string) {
				if !exec(line) {
					select {
					case <-quit:
					default:
						close(quit)
					}
				}
			},
			complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
	}()
	select {
	case <-done:
	case <-quit:
	case <-stop:
	}
	return nil
}

// ScriptLoop executes non-empty, non-comment lines until EOF, exec returns false or quit is closed.
func ScriptLoop(r io.Reader, exec func(line string) bool, quit <-chan struct{}) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-quit:
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !exec(line) {
			return nil
		}
	}
	return scanner.Err()
}
