package command

import (
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

const (
	TypeSetLanguage   = core.MessageSetLanguage
	TypeStartTesting  = core.MessageStartTesting
	TypeCancelTesting = core.MessageCancelTesting
	TypeReset         = core.MessageReset
)

type SetLanguageMessage struct {
	Language string `json:"language"`
}

func (SetLanguageMessage) Type() string { return TypeSetLanguage }

func (m SetLanguageMessage) Validate() error {
	if strings.TrimSpace(m.Language) == "" {
		return commandValidationError("language", "language is required")
	}
	return nil
}

// StartTestingMessage carries the credential list and the run configuration.
type StartTestingMessage struct {
	Credentials       []string `json:"credentials"`
	ProviderID        string   `json:"providerId"`
	Model             string   `json:"model"`
	ProxyEndpoint     string   `json:"proxyEndpoint,omitempty"`
	ConcurrencyBudget int      `json:"concurrencyBudget"`
	MaxRetries        int      `json:"maxRetries"`
	EnablePaidProbe   bool     `json:"enablePaidProbe"`
}

func (StartTestingMessage) Type() string { return TypeStartTesting }

func (m StartTestingMessage) Validate() error {
	if len(core.DedupeCredentials(m.Credentials)) == 0 {
		return commandValidationError("credentials", "at least one credential is required")
	}
	return commandWrapValidation(m.RunConfig().Validate(), "command: invalid run config")
}

func (m StartTestingMessage) RunConfig() core.RunConfig {
	return core.RunConfig{
		ProviderID:        m.ProviderID,
		Model:             m.Model,
		ProxyEndpoint:     m.ProxyEndpoint,
		ConcurrencyBudget: m.ConcurrencyBudget,
		MaxRetries:        m.MaxRetries,
		EnablePaidProbe:   m.EnablePaidProbe,
	}.Normalized()
}

type CancelTestingMessage struct{}

func (CancelTestingMessage) Type() string { return TypeCancelTesting }

type ResetMessage struct{}

func (ResetMessage) Type() string { return TypeReset }
