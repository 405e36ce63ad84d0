// Command boltsyncd runs the offline-first sync agent for the habit
// tracker: it keeps the local store reconciled with the remote backend
// and exposes administrative commands for inspecting sync state.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voltakids/boltsync/internal/connectivity"
	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "boltsyncd",
	Short: "Offline-first sync agent for the habit tracker",
	Long: `boltsyncd keeps the local habit-tracker store in sync with the
remote backend under unreliable connectivity.

Writes always land locally first; the agent replays pending records and
queued operations to the remote backend with retry and exponential
backoff, and applies inbound realtime changes to the local store.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./boltsync.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("boltsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".boltsync"))
		}
	}

	viper.SetEnvPrefix("boltsync")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("database", filepath.Join(".boltsync", "boltsync.db"))
	viper.SetDefault("probe_url", "https://clients3.google.com/generate_204")
	viper.SetDefault("sync_interval", "60s")
	viper.SetDefault("connectivity_interval", "10s")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// openStore opens and initializes the local store from config.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	st, err := store.Open(viper.GetString("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := st.Init(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}
	return st, nil
}

// newBackend builds the remote REST client from config.
func newBackend() (*remote.Client, error) {
	return remote.NewClient(remote.ClientConfig{
		BaseURL: viper.GetString("remote.url"),
		APIKey:  viper.GetString("remote.api_key"),
	})
}

// newOracle builds the connectivity oracle from config.
func newOracle() *connectivity.Oracle {
	return connectivity.New(viper.GetString("probe_url"), nil)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
