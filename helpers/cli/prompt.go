package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// MainLoop calls exec for each input line.
// Terminal gets interactive prompt, otherwise lines are read until EOF.
func MainLoop(tag string, r io.Reader, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if f, ok := r.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh,
			syscall.SIGHUP,
			syscall.SIGTERM,
			syscall.SIGQUIT)
		defer signal.Stop(signalCh)
		go func() {
			if _, ok := <-signalCh; ok {
				os.Exit(1)
			}
		}()
		// TODO OptionHistory from ~/.wearable_history
		prompt.New(exec, complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return ScanLines(r, exec)
}

// ScanLines skips empty lines.
func ScanLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "cli read")
}
