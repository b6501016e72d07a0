package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/keystore"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the local peer ID and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore()
			if err != nil {
				return err
			}
			keys, err := keystore.LoadIdentity(ks)
			if err != nil {
				return fmt.Errorf("no identity found, run keygen first: %w", err)
			}
			defer crypto.WipeKeyPair(keys)

			fmt.Printf("Peer ID:    %s\nPublic key: %x\n", crypto.DeriveID(keys.Public), keys.Public)
			return nil
		},
	}
}
