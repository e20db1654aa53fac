package sqlstore

import "github.com/goliatone/go-keyprobe/core"

var (
	_ core.LogStore = (*LogStore)(nil)
	_ core.LogStore = (*CachedLogStore)(nil)
)
