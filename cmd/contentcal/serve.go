package main

import (
	"fmt"

	"github.com/spf13/cobra"

	appLog "contentcal/internal/log"
	"contentcal/internal/store"
	"contentcal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the events/upload API and the web UI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		st, err := store.Open(conf.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		appLog.Info("contentcal serve starting",
			"version", version,
			"listen", conf.Listen,
			"database", st.Path(),
			"upload_dir", conf.UploadDir,
		)
		if err := web.NewServer(conf, st).Run(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		appLog.Info("contentcal serve exiting")
		return nil
	},
}
