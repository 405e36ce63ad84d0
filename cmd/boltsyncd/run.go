package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/voltakids/boltsync/internal/agent"
	"github.com/voltakids/boltsync/internal/connectivity"
	"github.com/voltakids/boltsync/internal/engine"
	"github.com/voltakids/boltsync/internal/realtime"
	"github.com/voltakids/boltsync/internal/remote"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync agent",
	Long: `Run the sync agent in the foreground.

The agent:
  1. Initializes the local store (creating or migrating the schema)
  2. Monitors connectivity and triggers a sync pass when it returns
  3. Runs periodic sync passes
  4. Applies inbound realtime changes from the remote backend

Editing the config file while the agent runs adjusts the sync interval
without a restart. Stop with SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := agentLogger()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		backend, err := newBackend()
		if err != nil {
			return fmt.Errorf("failed to build remote client: %w", err)
		}

		oracle := connectivity.New(viper.GetString("probe_url"), logger)
		eng := engine.New(st, backend, oracle, logger)

		var rec *realtime.Reconciler
		if realtimeURL := viper.GetString("remote.realtime_url"); realtimeURL != "" {
			channel, err := remote.NewChannel(remote.ChannelConfig{
				URL:    realtimeURL,
				APIKey: viper.GetString("remote.api_key"),
				Logger: logger,
			})
			if err != nil {
				return fmt.Errorf("failed to build realtime channel: %w", err)
			}
			rec = realtime.New(st, channel, logger)
		} else {
			logger.Println("No realtime URL configured, inbound reconciliation disabled")
		}

		cfg := &agent.Config{
			SyncInterval:         viper.GetDuration("sync_interval"),
			ConnectivityInterval: viper.GetDuration("connectivity_interval"),
			Logger:               logger,
		}

		a, err := agent.New(st, oracle, eng, rec, cfg)
		if err != nil {
			return err
		}

		// Hot-reload the sync interval on config edits.
		viper.OnConfigChange(func(e fsnotify.Event) {
			logger.Printf("Config changed: %s", e.Name)
			a.SetSyncInterval(viper.GetDuration("sync_interval"))
		})
		viper.WatchConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return a.Start(ctx)
	},
}

// agentLogger routes agent output to a rotating log file when one is
// configured, stderr otherwise.
func agentLogger() *log.Logger {
	if logFile := viper.GetString("log_file"); logFile != "" {
		return log.New(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}, "[boltsyncd] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[boltsyncd] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
