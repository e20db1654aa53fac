package keyprobe

import (
	"fmt"

	probecommand "github.com/goliatone/go-keyprobe/command"
	probequery "github.com/goliatone/go-keyprobe/query"
)

// CommandQueryService is the controller surface the facade binds handlers to.
type CommandQueryService interface {
	probecommand.RunService
	probequery.LogReader
	probequery.ModelReader
	probequery.CounterReader
}

type Commands struct {
	SetLanguage   *probecommand.SetLanguageCommand
	StartTesting  *probecommand.StartTestingCommand
	CancelTesting *probecommand.CancelTestingCommand
	Reset         *probecommand.ResetCommand
}

type Queries struct {
	Ping       *probequery.PingQuery
	GetLogs    *probequery.GetLogsQuery
	ListModels *probequery.ListModelsQuery
	Counters   *probequery.CountersQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	logReader probequery.LogReader
}

// WithLogReader serves GET_LOGS from reader instead of the service, for
// example a persistent log store that outlives the controller.
func WithLogReader(reader probequery.LogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.logReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("keyprobe: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.logReader
	if reader == nil {
		reader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		SetLanguage:   probecommand.NewSetLanguageCommand(service),
		StartTesting:  probecommand.NewStartTestingCommand(service),
		CancelTesting: probecommand.NewCancelTestingCommand(service),
		Reset:         probecommand.NewResetCommand(service),
	}
	facade.queries = Queries{
		Ping:       probequery.NewPingQuery(),
		GetLogs:    probequery.NewGetLogsQuery(reader),
		ListModels: probequery.NewListModelsQuery(service),
		Counters:   probequery.NewCountersQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Controller)(nil)
