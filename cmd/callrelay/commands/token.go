package commands

import (
	"fmt"

	"github.com/mosaicnetworks/callrelay/src/service"
	"github.com/spf13/cobra"
)

// NewTokenCmd returns the command that issues relay tokens
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token [user]",
		Short:   "Issue a relay bearer token for a user",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE:    issueToken,
	}
	AddTokenFlags(cmd)
	return cmd
}

//AddTokenFlags adds flags to the token command
func AddTokenFlags(cmd *cobra.Command) {
	AddCommonFlags(cmd)
	cmd.Flags().String("jwt-secret", _config.Callrelay.JWTSecret, "Secret the relay verifies tokens with")
	cmd.Flags().Duration("token-ttl", _config.TokenTTL, "Token lifetime")
}

func issueToken(cmd *cobra.Command, args []string) error {
	token, err := service.IssueToken(_config.Callrelay.JWTSecret, args[0], _config.TokenTTL)
	if err != nil {
		return err
	}

	fmt.Println(token)

	return nil
}
