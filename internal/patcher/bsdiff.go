package patcher

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftcal/ota-server/internal/config"
)

var (
	// ErrNotInstalled reports that the configured diff binary could not
	// be found on this host.
	ErrNotInstalled = errors.New("bsdiff binary not installed")
	// ErrTimeout reports that patch generation exceeded the configured
	// deadline and was killed.
	ErrTimeout = errors.New("bsdiff timed out")
)

// RunError carries the tail of the diff tool's output for diagnostics.
type RunError struct {
	Output string
	Err    error
}

func (e *RunError) Error() string {
	if e.Output == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Output
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Runner shells out to an external binary-diff tool. The tool is
// invoked as <binary> <base> <target> <patch>.
type Runner struct {
	binary    string
	timeout   time.Duration
	maxOutput int64
}

func NewRunner(conf config.PatcherConfig) *Runner {
	binary := conf.Binary
	if binary == "" {
		binary = config.DefaultPatcherBinary
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPatcherTimeout
	}
	maxOutput := conf.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = config.DefaultPatcherMaxOutputBytes
	}
	return &Runner{
		binary:    binary,
		timeout:   timeout,
		maxOutput: maxOutput,
	}
}

// Generate writes a patch transforming basePath into targetPath. The
// caller owns patchPath and is expected to rename it into place on
// success and remove it on failure.
func (r *Runner) Generate(ctx context.Context, basePath, targetPath, patchPath string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output := &limitedBuffer{limit: r.maxOutput}
	cmd := exec.CommandContext(ctx, r.binary, basePath, targetPath, patchPath)
	cmd.Stdout = output
	cmd.Stderr = output
	// Orphaned children must not pin the output pipes past the deadline.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(errors.Cause(err)) {
		return ErrNotInstalled
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return &RunError{
		Output: strings.TrimSpace(output.String()),
		Err:    err,
	}
}

// limitedBuffer keeps at most limit bytes of process output.
type limitedBuffer struct {
	limit int64
	buf   []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(len(b.buf))
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.buf)
}
