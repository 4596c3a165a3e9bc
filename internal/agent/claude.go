package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/prompts"
)

// Permission modes accepted in project configuration
const (
	PermissionAuto   = "auto"
	PermissionManual = "manual"
	PermissionNone   = "none"
)

// maxTokensEnv is read by the Claude Code CLI
const maxTokensEnv = "CLAUDE_CODE_MAX_OUTPUT_TOKENS"

const credentialsHint = "Check your network connection and API credentials."

// ClaudeOptions configures the Claude Code runner
type ClaudeOptions struct {
	Binary         string // defaults to "claude"
	Model          string
	PermissionMode string // auto, manual or none
	// MaxTokens caps the output tokens per response; 0 keeps the CLI default
	MaxTokens uint32
	// LogDir receives one raw stream-json log per session when set
	LogDir  string
	Prompts *prompts.Loader
	Logger  *zap.Logger
}

// Claude invokes the Claude Code CLI in non-interactive stream-json mode
type Claude struct {
	opts   ClaudeOptions
	logger *zap.Logger
}

// NewClaude creates a Claude runner
func NewClaude(opts ClaudeOptions) *Claude {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.Prompts == nil {
		opts.Prompts = prompts.NewLoader()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Claude{opts: opts, logger: logger.Named("agent")}
}

// permissionFlag maps a configured permission mode to the CLI's value
func permissionFlag(mode string) string {
	switch mode {
	case PermissionManual:
		return "default"
	case PermissionNone:
		return "plan"
	default:
		return "bypassPermissions"
	}
}

// buildArgs assembles the CLI arguments. The task prompt goes to stdin.
func (c *Claude) buildArgs(sessionID, system string, meta prompts.AgentMeta) []string {
	args := []string{
		"--print",                        // Non-interactive mode
		"--verbose",                      // Required for stream-json output
		"--output-format", "stream-json", // One JSON message per line
		"--session-id", sessionID,
		"--permission-mode", permissionFlag(c.opts.PermissionMode),
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if meta.Preset {
		args = append(args, "--append-system-prompt", system)
	} else {
		args = append(args, "--system-prompt", system)
	}
	if len(meta.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(meta.Tools, ","))
	}
	if len(meta.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(meta.DisallowedTools, ","))
	}
	return args
}

// Invoke renders the agent's system and task templates and runs one session
func (c *Claude) Invoke(ctx context.Context, req Request) (*Transcript, error) {
	fail := func(format string, a ...any) error {
		return fmt.Errorf("%w: agent %s %s. %s",
			domain.ErrCollaborator, req.Agent, fmt.Sprintf(format, a...), credentialsHint)
	}

	meta, err := c.opts.Prompts.AgentConfig(req.Agent)
	if err != nil {
		return nil, fmt.Errorf("%w: loading agent config for %s: %v", domain.ErrCollaborator, req.Agent, err)
	}
	system, err := c.opts.Prompts.Render(req.Agent+"/system", req.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaborator, err)
	}
	task, err := c.opts.Prompts.Render(req.Template, req.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaborator, err)
	}

	sessionID := uuid.NewString()
	cmd := exec.CommandContext(ctx, c.opts.Binary, c.buildArgs(sessionID, system, meta)...)
	cmd.Dir = req.Dir
	if c.opts.MaxTokens > 0 {
		cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", maxTokensEnv, c.opts.MaxTokens))
	}
	cmd.Stdin = strings.NewReader(task)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fail("failed: %v", err)
	}

	logFile := c.openLog(req.Agent, sessionID)
	if logFile != nil {
		defer logFile.Close()
	}

	c.logger.Debug("running agent",
		zap.String("agent", req.Agent),
		zap.String("task", req.Template),
		zap.String("dir", req.Dir),
		zap.String("session", sessionID),
	)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fail("failed to start: %v", err)
	}

	transcript, sawResult, parseErr := ParseStream(stdout, func(line string) {
		if logFile != nil {
			logFile.WriteString(line + "\n")
		}
	})
	// The child blocks on a full pipe if parsing stopped early
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if parseErr != nil {
		return nil, fail("output unreadable: %v", parseErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: agent %s: %w", domain.ErrCollaborator, req.Agent, ctxErr)
	}
	if waitErr != nil && !sawResult {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fail("failed: exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fail("failed: %v", waitErr)
	}

	c.logger.Info("agent finished",
		zap.String("agent", req.Agent),
		zap.String("task", req.Template),
		zap.Uint32("turns", transcript.Turns),
		zap.Bool("is_error", transcript.IsError),
		zap.Duration("elapsed", time.Since(start)),
	)
	return transcript, nil
}

// openLog creates <LogDir>/<agent>-<session>.jsonl. Logging is best effort.
func (c *Claude) openLog(agentName, sessionID string) *os.File {
	if c.opts.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.opts.LogDir, 0755); err != nil {
		c.logger.Warn("cannot create agent log dir", zap.Error(err))
		return nil
	}
	f, err := os.Create(filepath.Join(c.opts.LogDir, fmt.Sprintf("%s-%s.jsonl", agentName, sessionID)))
	if err != nil {
		c.logger.Warn("cannot create agent log", zap.Error(err))
		return nil
	}
	return f
}
