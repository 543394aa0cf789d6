package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Taskferry", GetVersion())

	storage := "memory"
	if config.Storage.Badger.Path != "" {
		storage = config.Storage.Badger.Path
	}

	logger.Info().
		Str("version", GetVersion()).
		Str("environment", config.Environment).
		Str("address", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)).
		Str("productive", config.Productive.BaseURL).
		Str("linear", config.Linear.APIURL).
		Str("storage", storage).
		Dur("cooldown", config.Productive.Cooldown).
		Msg("Taskferry starting")
}
