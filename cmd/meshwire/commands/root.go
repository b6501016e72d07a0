package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opd-ai/meshwire/config"
	"github.com/opd-ai/meshwire/keystore"
)

var (
	home       string
	configPath string
	passphrase string

	cfg config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:   "meshwire",
		Short: "Encrypted mesh messaging tools",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".meshwire")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			if configPath == "" {
				configPath = filepath.Join(home, "meshwire.toml")
			}
			if _, err := os.Stat(configPath); err == nil {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				cfg = config.Default()
			}
			return cfg.ApplyLogging()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.meshwire)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/meshwire.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the keystore")

	root.AddCommand(keygenCmd(), fingerprintCmd(), demoCmd())
	return root.Execute()
}

// openKeystore opens the encrypted identity store under the configured
// directory.
func openKeystore() (*keystore.EncryptedFileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p)")
	}
	dir := cfg.Identity.KeystoreDir
	if dir == "" {
		dir = filepath.Join(home, "keys")
	}
	return keystore.NewEncryptedFileStore(dir, []byte(passphrase))
}
