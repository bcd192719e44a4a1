package parsers

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Runner executes external commands; tests substitute a stub
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger arbor.ILogger
}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner(logger arbor.ILogger) Runner {
	return execRunner{logger: logger}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if r.logger != nil {
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("cmd", name).
				Str("args", strings.Join(args, " ")).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("stderr", truncate(errb.String(), 8<<10)).
				Msg("Command failed")
		} else {
			r.logger.Debug().
				Str("cmd", name).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int("stdout_bytes", out.Len()).
				Msg("Command completed")
		}
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
