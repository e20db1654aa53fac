package keyprobe

import (
	"context"
	"testing"

	probecommand "github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	probequery "github.com/goliatone/go-keyprobe/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.StartTesting == nil || commands.CancelTesting == nil || commands.Reset == nil || commands.SetLanguage == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.Ping == nil || queries.GetLogs == nil || queries.ListModels == nil || queries.Counters == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().StartTesting.Execute(context.Background(), probecommand.StartTestingMessage{
		Credentials:       []string{"k1", "k1", "k2"},
		ProviderID:        "openai",
		ConcurrencyBudget: 2,
	}); err != nil {
		t.Fatalf("execute start command: %v", err)
	}
	if len(svc.started) != 2 {
		t.Fatalf("expected deduped credentials delegated, got %v", svc.started)
	}

	snapshot, err := facade.Queries().GetLogs.Query(context.Background(), probequery.GetLogsMessage{})
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(snapshot.Entries) != 1 || snapshot.Entries[0].ID != "service-entry" {
		t.Fatalf("unexpected logs snapshot: %#v", snapshot)
	}
}

func TestFacade_LogReaderOverride(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{}, WithLogReader(stubLogReader{}))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	snapshot, err := facade.Queries().GetLogs.Query(context.Background(), probequery.GetLogsMessage{})
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(snapshot.Entries) != 1 || snapshot.Entries[0].ID != "store-entry" {
		t.Fatalf("expected override reader to serve logs, got %#v", snapshot)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	started  []string
	language string
}

func (s *stubFacadeService) Start(_ context.Context, credentials []string, _ core.RunConfig) (string, error) {
	s.started = credentials
	return "run-1", nil
}

func (s *stubFacadeService) Cancel(context.Context) error { return nil }

func (s *stubFacadeService) Reset(context.Context) error { return nil }

func (s *stubFacadeService) SetLanguage(language string) { s.language = language }

func (s *stubFacadeService) Logs(context.Context) ([]core.LogEntry, error) {
	return []core.LogEntry{{ID: "service-entry"}}, nil
}

func (s *stubFacadeService) ListModels(context.Context, string, string, string) ([]string, error) {
	return []string{"model-a"}, nil
}

func (s *stubFacadeService) Counters() core.RunCounters { return core.RunCounters{} }

func (s *stubFacadeService) Active() bool { return false }

type stubLogReader struct{}

func (stubLogReader) Logs(context.Context) ([]core.LogEntry, error) {
	return []core.LogEntry{{ID: "store-entry"}}, nil
}

var _ CommandQueryService = (*stubFacadeService)(nil)
