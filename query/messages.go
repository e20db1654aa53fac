package query

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

const (
	TypePing       = core.MessagePing
	TypeGetLogs    = core.MessageGetLogs
	TypeListModels = core.MessageListModels
	TypeCounters   = "GET_COUNTERS"
)

type PingMessage struct{}

func (PingMessage) Type() string { return TypePing }

type GetLogsMessage struct{}

func (GetLogsMessage) Type() string { return TypeGetLogs }

type ListModelsMessage struct {
	ProviderID    string `json:"providerId"`
	Credential    string `json:"credential"`
	ProxyEndpoint string `json:"proxyEndpoint,omitempty"`
}

func (ListModelsMessage) Type() string { return TypeListModels }

func (m ListModelsMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("providerId", "provider id is required")
	}
	if strings.TrimSpace(m.Credential) == "" {
		return queryValidationError("credential", "credential is required")
	}
	if proxy := strings.TrimSpace(m.ProxyEndpoint); proxy != "" {
		parsed, err := url.Parse(proxy)
		if err != nil || parsed.Host == "" {
			return queryValidationError("proxyEndpoint", "proxy endpoint must be an absolute url")
		}
	}
	return nil
}

type CountersMessage struct{}

func (CountersMessage) Type() string { return TypeCounters }
