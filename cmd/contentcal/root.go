package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contentcal/internal/config"
	"contentcal/internal/localstore"
	appLog "contentcal/internal/log"
	"contentcal/internal/remote"
	"contentcal/internal/session"
)

const version = "0.1.0"

// verbosity is incremented once per -v flag.
var verbosity int

var (
	configPath string
	listenFlag string
	apiURLFlag string

	// set in PersistentPreRunE
	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "contentcal",
	Short:         "Personal content calendar: backend server and local-first client",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbosity > 0 {
			appLog.SetLevel(appLog.LevelDebug)
		}
		// Command output goes to stdout; keep log lines on stderr.
		appLog.SetOutput(os.Stderr)

		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
		// CLI flags override the config file.
		if listenFlag != "" {
			c.Listen = listenFlag
		}
		if apiURLFlag != "" {
			c.Client.APIURL = apiURLFlag
		}
		c.Normalize()
		conf = c

		appLog.Debug("effective config",
			"config_path", configPath,
			"listen", conf.Listen,
			"timezone", conf.Timezone,
			"database", conf.DatabasePath,
			"upload_dir", conf.UploadDir,
			"api_url", conf.Client.APIURL,
			"store_path", conf.Client.StorePath,
			"basic_auth", conf.BasicAuth != nil,
		)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (created with defaults if missing)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&listenFlag, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "Backend base URL for client commands (overrides config if set)")

	rootCmd.AddCommand(
		serveCmd,
		monthCmd,
		addCmd,
		viewCmd,
		deleteCmd,
		refreshCmd,
		watchCmd,
		importICSCmd,
		hashPasswordCmd,
	)
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func displayLocation() *time.Location {
	if conf.Timezone == "" || conf.Timezone == "Local" || conf.Timezone == "local" {
		return time.Local
	}
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		return time.Local
	}
	return loc
}

// openSession wires the client side: backend client, file-backed local
// store and a text renderer.
func openSession() (*session.Session, *session.TextRenderer, error) {
	client := remote.NewClient(conf.Client.APIURL)
	slot := localstore.NewFileSlot(conf.Client.StorePath, int64(conf.Client.StorageQuotaBytes))
	renderer := session.NewTextRenderer()

	s, err := session.Open(session.Config{
		Remote:   client,
		Store:    localstore.New(slot),
		Renderer: renderer,
		BaseURL:  client.BaseURL(),
		Location: displayLocation(),
	})
	if err != nil {
		return nil, nil, err
	}
	return s, renderer, nil
}
