package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-keyprobe/core"
)

// RunService is the mutating surface of the run controller.
type RunService interface {
	Start(ctx context.Context, credentials []string, cfg core.RunConfig) (string, error)
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
	SetLanguage(language string)
}

type SetLanguageCommand struct {
	service RunService
}

func NewSetLanguageCommand(service RunService) *SetLanguageCommand {
	return &SetLanguageCommand{service: service}
}

func (c *SetLanguageCommand) Execute(_ context.Context, msg SetLanguageMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run service is required")
	}
	c.service.SetLanguage(msg.Language)
	return nil
}

// StartTestingCommand stores the run id in the result collector when one is
// attached to ctx.
type StartTestingCommand struct {
	service RunService
}

func NewStartTestingCommand(service RunService) *StartTestingCommand {
	return &StartTestingCommand{service: service}
}

func (c *StartTestingCommand) Execute(ctx context.Context, msg StartTestingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run service is required")
	}
	runID, err := c.service.Start(ctx, msg.Credentials, msg.RunConfig())
	if err != nil {
		return err
	}
	storeResult(ctx, runID)
	return nil
}

type CancelTestingCommand struct {
	service RunService
}

func NewCancelTestingCommand(service RunService) *CancelTestingCommand {
	return &CancelTestingCommand{service: service}
}

func (c *CancelTestingCommand) Execute(ctx context.Context, _ CancelTestingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run service is required")
	}
	return c.service.Cancel(ctx)
}

type ResetCommand struct {
	service RunService
}

func NewResetCommand(service RunService) *ResetCommand {
	return &ResetCommand{service: service}
}

func (c *ResetCommand) Execute(ctx context.Context, _ ResetMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run service is required")
	}
	return c.service.Reset(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
