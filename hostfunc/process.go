package hostfunc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"
)

const (
	DefaultProcessTimeout   = 30 * time.Second
	DefaultMaxProcessOutput = 1 << 20
)

// ProcessConfig configures the process launcher.
type ProcessConfig struct {
	Env             map[string]string // Complete environment of launched commands
	Dir             string            // Working directory, empty for the host default
	AllowedCommands []string          // If set, only these commands can be run
	Timeout         time.Duration
	MaxOutput       int
}

// Process runs host commands on behalf of guests.
type Process struct {
	cfg ProcessConfig
}

func NewProcess(cfg ProcessConfig) *Process {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultProcessTimeout
	}
	if cfg.MaxOutput == 0 {
		cfg.MaxOutput = DefaultMaxProcessOutput
	}
	return &Process{cfg: cfg}
}

// Register installs process_run.
func (p *Process) Register(r *Registry) {
	r.Register("process_run", p.Run)
}

// Run executes "command" with optional "args" and "stdin". A non-zero exit
// status is reported in the result, not as an error.
func (p *Process) Run(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, errors.New("command required")
	}
	if strings.ContainsAny(command, ";|&$`") {
		return nil, errors.New("invalid command")
	}
	if len(p.cfg.AllowedCommands) > 0 && !slices.Contains(p.cfg.AllowedCommands, command) {
		return nil, fmt.Errorf("command %q not allowed", command)
	}

	var argv []string
	switch a := args["args"].(type) {
	case nil:
	case []any:
		for _, v := range a {
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("args must be strings")
			}
			argv = append(argv, s)
		}
	case []string:
		argv = a
	default:
		return nil, errors.New("args must be a list")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = make([]string, 0, len(p.cfg.Env))
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if stdin, ok := args["stdin"].(string); ok {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout := &limitedBuffer{max: p.cfg.MaxOutput}
	stderr := &limitedBuffer{max: p.cfg.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}, nil
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
