package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/merge"
)

// ExitCoder is implemented by errors that carry a process exit code
type ExitCoder interface {
	ExitCode() int
}

type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }
func (e *exitErr) ExitCode() int { return e.code }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitErr{code: code, err: err}
}

// ExitCode maps an error to the process exit code: 2 for precondition
// failures, 3 for an operation that was rolled back, 1 otherwise.
func ExitCode(err error) int {
	var coder ExitCoder
	switch {
	case err == nil:
		return 0
	case errors.As(err, &coder):
		return coder.ExitCode()
	case domain.IsPrecondition(err):
		return 2
	case errors.As(err, new(*domain.OperationError)):
		return 3
	default:
		return 1
	}
}

// parseFeatureKeys reads "toid/fragid" arguments. A bare toid selects
// fragment 00001.
func parseFeatureKeys(args []string) ([]domain.FeatureKey, error) {
	keys := make([]domain.FeatureKey, 0, len(args))
	for _, arg := range args {
		toid, frag, found := strings.Cut(arg, "/")
		if !found {
			frag = "00001"
		}
		if strings.TrimSpace(toid) == "" || strings.TrimSpace(frag) == "" {
			return nil, fmt.Errorf("invalid feature %q: expected <toid>/<fragid>", arg)
		}
		keys = append(keys, domain.FeatureKey{Toid: toid, ToidFragID: frag})
	}
	return keys, nil
}

func formatKey(k domain.FeatureKey) string {
	return k.Toid + "/" + k.ToidFragID
}

// promptChooser asks survivor and confirmation questions on the command's
// input and output streams.
type promptChooser struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func newPromptChooser(in io.Reader, out io.Writer, assumeYes bool) *promptChooser {
	return &promptChooser{in: bufio.NewReader(in), out: out, assumeYes: assumeYes}
}

func (p *promptChooser) ChooseSurvivor(_ context.Context, candidates []merge.Candidate) (merge.Candidate, error) {
	fmt.Fprintln(p.out, "Choose the surviving record:")
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d) %s %s [%s]\n", i+1, c.Incid, formatKey(c.Key), c.Polygon.HabPrimary.String)
	}
	for {
		fmt.Fprintf(p.out, "Survivor (1-%d, blank to cancel): ", len(candidates))
		line, err := p.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return merge.Candidate{}, domain.ErrCancelled
		}
		if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(candidates) {
			return candidates[n-1], nil
		}
		if err != nil {
			return merge.Candidate{}, domain.ErrCancelled
		}
		fmt.Fprintf(p.out, "Invalid choice %q\n", line)
	}
}

func (p *promptChooser) Confirm(_ context.Context, question string) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, _ := p.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// survivorChooser picks a fixed incid or fragment when it is among the
// candidates and defers to next otherwise.
type survivorChooser struct {
	want string
	next merge.Chooser
}

func (s survivorChooser) ChooseSurvivor(ctx context.Context, candidates []merge.Candidate) (merge.Candidate, error) {
	for _, c := range candidates {
		if c.Incid == s.want || formatKey(c.Key) == s.want || c.Key.ToidFragID == s.want {
			return c, nil
		}
	}
	if s.next == nil {
		return merge.Candidate{}, fmt.Errorf("survivor %q is not among the candidates", s.want)
	}
	return s.next.ChooseSurvivor(ctx, candidates)
}

func (s survivorChooser) Confirm(ctx context.Context, question string) (bool, error) {
	if s.next == nil {
		return false, nil
	}
	return s.next.Confirm(ctx, question)
}
