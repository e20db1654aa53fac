package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-keyprobe/core"
)

var (
	_ gocmd.Querier[PingMessage, core.PongEvent]            = (*PingQuery)(nil)
	_ gocmd.Querier[GetLogsMessage, core.LogsSnapshot]      = (*GetLogsQuery)(nil)
	_ gocmd.Querier[ListModelsMessage, core.ModelsListed]   = (*ListModelsQuery)(nil)
	_ gocmd.Querier[CountersMessage, core.CountersSnapshot] = (*CountersQuery)(nil)
)
