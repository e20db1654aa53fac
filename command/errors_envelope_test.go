package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/core"
)

func TestStartTestingMessage_ValidateReturnsRichError(t *testing.T) {
	err := (StartTestingMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
}

func TestStartTestingMessage_ValidateRunConfig(t *testing.T) {
	msg := StartTestingMessage{
		Credentials:       []string{"sk-1"},
		ProviderID:        "openai",
		ConcurrencyBudget: 0,
	}
	err := msg.Validate()
	if core.ErrorCode(err) != core.ErrorBadInput {
		t.Fatalf("expected bad input for zero budget, got %v", err)
	}

	msg.ConcurrencyBudget = 2
	msg.ProxyEndpoint = "not a url"
	if err := msg.Validate(); core.ErrorCode(err) != core.ErrorBadInput {
		t.Fatalf("expected bad input for proxy endpoint, got %v", err)
	}

	msg.ProxyEndpoint = "https://proxy.example.test"
	if err := msg.Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
}

func TestStartTestingCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *StartTestingCommand
	err := cmd.Execute(context.Background(), StartTestingMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
