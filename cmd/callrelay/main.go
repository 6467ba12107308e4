package main

import (
	"os"

	cmd "github.com/mosaicnetworks/callrelay/cmd/callrelay/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewKeygenCmd(),
		cmd.NewTokenCmd(),
		cmd.NewRelayCmd(),
		cmd.NewDialCmd(),
		cmd.NewAnswerCmd(),
		cmd.NewGroupCmd())

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
