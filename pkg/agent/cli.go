package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	cliHealthTimeout = 10 * time.Second
	cliWaitDelay     = 2 * time.Second
	stderrTailBytes  = 2048
	maxLineBytes     = 1 << 20
)

type argBuilder func(cfg Config, prompt string) []string

// CLIAgent drives a local coding CLI as a subprocess. Each stdout line
// becomes one Token; the child is killed when the run context ends.
type CLIAgent struct {
	name        string
	binary      string
	installHint string
	cfg         Config
	args        argBuilder
	env         []string
}

func newClaudeCodeAgent(cfg Config) *CLIAgent {
	return &CLIAgent{
		name:        TypeClaudeCode,
		binary:      "claude",
		installHint: "npm install -g @anthropic-ai/claude-code",
		cfg:         cfg,
		args: func(cfg Config, prompt string) []string {
			args := []string{"-p", "--dangerously-skip-permissions"}
			if cfg.WorkingDir != "" {
				args = append(args, "--add-dir", cfg.WorkingDir)
			}
			args = append(args, cfg.ExtraArgs...)
			return append(args, prompt)
		},
	}
}

func newCodexAgent(cfg Config) *CLIAgent {
	return &CLIAgent{
		name:        TypeCodex,
		binary:      "codex",
		installHint: "npm install -g @openai/codex",
		cfg:         cfg,
		args: func(cfg Config, prompt string) []string {
			args := []string{"--quiet", "--approval-mode", "full-auto"}
			args = append(args, cfg.ExtraArgs...)
			return append(args, prompt)
		},
	}
}

func newOpenCodeAgent(cfg Config) *CLIAgent {
	return &CLIAgent{
		name:        TypeOpenCode,
		binary:      "opencode",
		installHint: "npm install -g opencode-ai",
		cfg:         cfg,
		env:         []string{"TERM=dumb"},
		args: func(cfg Config, prompt string) []string {
			return append([]string{"-p", prompt}, cfg.ExtraArgs...)
		},
	}
}

func newKimiAgent(cfg Config) *CLIAgent {
	return &CLIAgent{
		name:        TypeKimiCLI,
		binary:      "kimi",
		installHint: "https://moonshotai.github.io/kimi-cli/en/guides/getting-started.html",
		cfg:         cfg,
		args: func(cfg Config, prompt string) []string {
			args := []string{"--prompt", prompt}
			if cfg.Model != "" {
				args = append(args, "--model", cfg.Model)
			}
			if cfg.WorkingDir != "" {
				args = append(args, "--work-dir", cfg.WorkingDir)
			}
			return append(args, cfg.ExtraArgs...)
		},
	}
}

func (a *CLIAgent) Name() string {
	return a.name
}

// HealthCheck verifies the binary is on PATH and answers --version.
func (a *CLIAgent) HealthCheck(ctx context.Context) error {
	path, err := exec.LookPath(a.binary)
	if err != nil {
		return fmt.Errorf("%w: %s (install: %s)", ErrBinaryNotFound, a.binary, a.installHint)
	}

	ctx, cancel := context.WithTimeout(ctx, cliHealthTimeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput(); err != nil {
		return fmt.Errorf("%s --version failed: %w: %s", a.binary, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (a *CLIAgent) Run(ctx context.Context, prompt string, sink chan<- StreamEvent) error {
	cmd := exec.CommandContext(ctx, a.binary, a.args(a.cfg, prompt)...)
	cmd.Dir = a.cfg.WorkingDir
	cmd.Env = a.environ()
	cmd.WaitDelay = cliWaitDelay

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to capture %s stdout: %w", a.binary, err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s (install: %s)", ErrBinaryNotFound, a.binary, a.installHint)
		}
		return fmt.Errorf("failed to start %s: %w", a.binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := Emit(ctx, sink, Token(scanner.Text()+"\n")); err != nil {
			break
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Nothing reads stdout any more, so the child would block on a full pipe.
		_ = cmd.Process.Kill()
		_ = stdout.Close()
	}
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read %s output: %w%s", a.binary, scanErr, stderr.suffix())
	}
	if waitErr != nil {
		return fmt.Errorf("%s exited with status: %w%s", a.binary, waitErr, stderr.suffix())
	}

	_ = Emit(ctx, sink, Done(uuid.NewString()))
	return nil
}

// environ layers fixed agent env and config overrides on top of the process env.
func (a *CLIAgent) environ() []string {
	env := slices.Clone(os.Environ())
	env = append(env, a.env...)

	keys := make([]string, 0, len(a.cfg.Env))
	for k := range a.cfg.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+a.cfg.Env[k])
	}
	return env
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) suffix() string {
	s := strings.TrimSpace(string(t.buf))
	if s == "" {
		return ""
	}
	return ": " + s
}
