package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/keystore"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the device identity if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore()
			if err != nil {
				return err
			}
			keys, err := keystore.LoadOrCreateIdentity(ks)
			if err != nil {
				return err
			}
			defer crypto.WipeKeyPair(keys)

			fmt.Printf("Identity ready.\nPeer ID: %s\n", crypto.DeriveID(keys.Public))
			return nil
		},
	}
}
