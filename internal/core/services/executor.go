package services

import (
	"context"
	"strings"
	"time"

	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
)

// CommandExecutor runs directives one at a time over a remote session and
// stops at the first failure. It never retries.
type CommandExecutor struct {
	logger *logger.Logger
}

func NewCommandExecutor(log *logger.Logger) *CommandExecutor {
	return &CommandExecutor{logger: log}
}

func (e *CommandExecutor) Execute(ctx context.Context, session ports.RemoteSession, host string, cmds []domain.Command) error {
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		if _, err := e.Run(ctx, session, host, cmd); err != nil {
			e.logger.Errorw("remote_command_failed",
				"host", host,
				"step", i+1,
				"total", len(cmds),
				"name", cmd.Name,
				"error", err,
			)
			return err
		}
		e.logger.Infow("remote_command_ok",
			"host", host,
			"step", i+1,
			"total", len(cmds),
			"name", cmd.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

// Run executes a single directive and converts a nonzero exit into a
// *RemoteCommandError.
func (e *CommandExecutor) Run(ctx context.Context, session ports.RemoteSession, host string, cmd domain.Command) (domain.CommandResult, error) {
	result, err := session.Run(ctx, cmd.Directive)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, &RemoteCommandError{
			Host:       host,
			Directive:  cmd.Directive,
			ExitStatus: -1,
			Stderr:     strings.TrimSpace(result.Stderr),
			Err:        err,
		}
	}
	if !result.Succeeded() {
		return result, &RemoteCommandError{
			Host:       host,
			Directive:  cmd.Directive,
			ExitStatus: result.ExitStatus,
			Stderr:     strings.TrimSpace(result.Stderr),
		}
	}
	return result, nil
}
