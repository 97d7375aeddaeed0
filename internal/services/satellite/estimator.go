package satellite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrUnparsableOutput = errors.New("satellite: estimator output is not a VWC value")

// Estimator produces the area-mean VWC from remote sensing. ok=false means
// the estimator ran but had nothing usable (cloud cover), which is not an error.
type Estimator interface {
	Estimate(ctx context.Context) (value float64, ok bool, err error)
}

// ExecEstimator runs an external command and reads the estimate from the
// last non-empty line of its stdout.
type ExecEstimator struct {
	Command []string
	Timeout time.Duration
}

// NewExecEstimator splits cmdline on whitespace; no shell is involved.
func NewExecEstimator(cmdline string, timeout time.Duration) (*ExecEstimator, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil, errors.New("satellite: empty estimator command")
	}
	return &ExecEstimator{Command: args, Timeout: timeout}, nil
}

func (e *ExecEstimator) Estimate(ctx context.Context) (float64, bool, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, false, fmt.Errorf("satellite: %s: %w (stderr: %s)",
			e.Command[0], err, strings.TrimSpace(tail(stderr.String(), 512)))
	}
	return ParseOutput(stdout.String())
}

// ParseOutput accepts, on the last non-empty line: a bare number, null/None
// or nothing (absent), a JSON number, an object with "vwc_satellite" or
// "value", or a nested array whose first leaf is the value.
func ParseOutput(out string) (float64, bool, error) {
	line := lastLine(out)
	switch strings.ToLower(line) {
	case "", "null", "none", "nan":
		return 0, false, nil
	}
	if v, err := strconv.ParseFloat(line, 64); err == nil {
		return v, true, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return 0, false, fmt.Errorf("%w: %q", ErrUnparsableOutput, line)
	}
	return fromJSON(doc)
}

func fromJSON(doc any) (float64, bool, error) {
	switch v := doc.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return v, true, nil
	case []any:
		if len(v) == 0 {
			return 0, false, nil
		}
		return fromJSON(v[0])
	case map[string]any:
		for _, k := range []string{"vwc_satellite", "value"} {
			if x, ok := v[k]; ok {
				return fromJSON(x)
			}
		}
	}
	return 0, false, fmt.Errorf("%w: unexpected %T", ErrUnparsableOutput, doc)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
