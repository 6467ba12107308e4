package commands

import (
	"time"

	"github.com/mosaicnetworks/callrelay/src/config"
)

//CLIConfig contains configuration for the callrelay commands
type CLIConfig struct {
	Callrelay  config.Config `mapstructure:",squash"`
	TokenTTL   time.Duration `mapstructure:"token-ttl"`
	AutoAccept bool          `mapstructure:"auto-accept"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Callrelay:  *config.NewDefaultConfig(),
		TokenTTL:   24 * time.Hour,
		AutoAccept: false,
	}
}
