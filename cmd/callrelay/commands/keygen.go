package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/mosaicnetworks/callrelay/src/callrelay"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/spf13/cobra"
)

var (
	privKeyFile string
	pubKeyFile  string
)

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Create new identity key pair",
		PreRunE: loadConfig,
		RunE:    keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	AddCommonFlags(cmd)
	cmd.Flags().StringVar(&privKeyFile, "priv", "", "File where the private key will be written (default [datadir]/priv_key)")
	cmd.Flags().StringVar(&pubKeyFile, "pub", "", "File where the public key will be written (default [datadir]/key.pub)")
}

func keygen(cmd *cobra.Command, args []string) error {
	if privKeyFile == "" {
		privKeyFile = _config.Callrelay.Keyfile()
	}
	if pubKeyFile == "" {
		pubKeyFile = _config.Callrelay.PublicKeyfile()
	}

	if _, err := os.Stat(privKeyFile); err == nil {
		return fmt.Errorf("A key already lives under: %s", path.Dir(privKeyFile))
	}

	for _, f := range []string{privKeyFile, pubKeyFile} {
		if err := os.MkdirAll(path.Dir(f), 0700); err != nil {
			return fmt.Errorf("Writing key: %s", err)
		}
	}

	key, err := callrelay.Keygen(privKeyFile, pubKeyFile)
	if err != nil {
		return fmt.Errorf("Generating key: %s", err)
	}

	// Check the pair round-trips a signature before anyone relies on it
	probe := []byte(path.Base(privKeyFile))
	sig, err := keys.Sign(key, probe)
	if err != nil {
		return fmt.Errorf("Signing with new key: %s", err)
	}
	if err := keys.Verify(&key.PublicKey, probe, sig); err != nil {
		return fmt.Errorf("New key does not verify its own signature: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", privKeyFile)
	fmt.Printf("Your public key has been saved to: %s\n", pubKeyFile)
	fmt.Printf("Fingerprint: %s\n", keys.Fingerprint(&key.PublicKey))

	return nil
}
