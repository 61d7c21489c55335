package dialogs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Terminal is a Dialogs implementation that prompts on stdin/stdout,
// grounded on internal/cli/prompt.go's numbered-menu prompts
// (promptFileConflict et al.), generalized to an arbitrary Option list
// instead of a fixed conflict-action enum, and IsTerminal's
// term.IsTerminal check for deciding whether to render at all.
type Terminal struct {
	in  *bufio.Reader
	out *os.File
}

// NewTerminal builds a Terminal prompting on os.Stdin/os.Stdout.
func NewTerminal() *Terminal {
	return &Terminal{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// IsInteractive reports whether stdin is a terminal, mirroring
// internal/cli/prompt.go's IsTerminal.
func (t *Terminal) IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (t *Terminal) Show(ctx context.Context, req Request) (string, bool, error) {
	if !t.IsInteractive() {
		return "", false, fmt.Errorf("dialogs: terminal is not interactive, cannot show %q", req.Title)
	}

	fmt.Fprintf(t.out, "\n%s\n", req.Title)
	if req.Message != "" {
		fmt.Fprintln(t.out, req.Message)
	}
	for i, opt := range req.Options {
		fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt.Label)
	}

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		default:
		}

		fmt.Fprintf(t.out, "Choose [1-%d]: ", len(req.Options))
		line, err := t.in.ReadString('\n')
		if err != nil {
			return "", false, err
		}
		line = strings.TrimSpace(line)
		idx, err := strconv.Atoi(line)
		if err != nil || idx < 1 || idx > len(req.Options) {
			fmt.Fprintln(t.out, "Invalid choice, please try again.")
			continue
		}
		return req.Options[idx-1].ID, true, nil
	}
}

func (t *Terminal) ShowValidator(ctx context.Context, req ValidatorRequest) (string, bool, error) {
	if !t.IsInteractive() {
		return "", false, fmt.Errorf("dialogs: terminal is not interactive, cannot show %q", req.Title)
	}

	fmt.Fprintf(t.out, "\n%s\n", req.Title)
	if req.Message != "" {
		fmt.Fprintln(t.out, req.Message)
	}

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		default:
		}

		if req.Default != "" {
			fmt.Fprintf(t.out, "[%s]: ", req.Default)
		} else {
			fmt.Fprint(t.out, "> ")
		}
		line, err := t.in.ReadString('\n')
		if err != nil {
			return "", false, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			line = req.Default
		}
		if req.Validator != nil {
			if verr := req.Validator(line); verr != nil {
				fmt.Fprintln(t.out, verr.Error())
				continue
			}
		}
		return line, true, nil
	}
}
