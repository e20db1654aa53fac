package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[SetLanguageMessage]   = (*SetLanguageCommand)(nil)
	_ gocmd.Commander[StartTestingMessage]  = (*StartTestingCommand)(nil)
	_ gocmd.Commander[CancelTestingMessage] = (*CancelTestingCommand)(nil)
	_ gocmd.Commander[ResetMessage]         = (*ResetCommand)(nil)
)
