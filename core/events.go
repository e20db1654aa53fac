package core

const (
	MessagePing          = "PING"
	MessageSetLanguage   = "SET_LANGUAGE"
	MessageStartTesting  = "START_TESTING"
	MessageCancelTesting = "CANCEL_TESTING"
	MessageReset         = "RESET"
	MessageGetLogs       = "GET_LOGS"
	MessageListModels    = "LIST_MODELS"

	EventPong            = "PONG"
	EventKeyStatusUpdate = "KEY_STATUS_UPDATE"
	EventLog             = "LOG_EVENT"
	EventTestingComplete = "TESTING_COMPLETE"
	EventEngineError     = "ENGINE_ERROR"
	EventCommandRejected = "COMMAND_REJECTED"
	EventLogs            = "LOGS"
	EventModels          = "MODELS"
	EventCounters        = "COUNTERS"
)

type PongEvent struct{}

func (PongEvent) Type() string { return EventPong }

type KeyStatusUpdate struct {
	Credential string `json:"credential"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Model      string `json:"model,omitempty"`
	IsPaid     *bool  `json:"isPaid,omitempty"`
	RetryCount *int   `json:"retryCount,omitempty"`
	StatusCode *int   `json:"statusCode,omitempty"`
}

func (KeyStatusUpdate) Type() string { return EventKeyStatusUpdate }

type LogEvent struct {
	Credential string         `json:"credential"`
	ProviderID string         `json:"providerId"`
	Model      string         `json:"model"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Event      AttemptRecord  `json:"event"`
}

func (LogEvent) Type() string { return EventLog }

type TestingComplete struct {
	RunID     string             `json:"runId"`
	Cancelled bool               `json:"cancelled"`
	Counters  RunCounters        `json:"counters"`
	Results   []CredentialResult `json:"results"`
}

func (TestingComplete) Type() string { return EventTestingComplete }

type EngineError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (EngineError) Type() string { return EventEngineError }

type CommandRejected struct {
	Command string `json:"command"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (CommandRejected) Type() string { return EventCommandRejected }

type LogsSnapshot struct {
	Entries []LogEntry `json:"entries"`
}

func (LogsSnapshot) Type() string { return EventLogs }

type ModelsListed struct {
	ProviderID string   `json:"providerId"`
	Models     []string `json:"models"`
	Error      string   `json:"error,omitempty"`
}

func (ModelsListed) Type() string { return EventModels }

type CountersSnapshot struct {
	Active   bool        `json:"active"`
	Counters RunCounters `json:"counters"`
}

func (CountersSnapshot) Type() string { return EventCounters }
