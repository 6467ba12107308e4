package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for callrelay
var RootCmd = &cobra.Command{
	Use:              "callrelay",
	Short:            "End-to-end encrypted calls over an untrusted signaling relay",
	TraverseChildren: true,
}
