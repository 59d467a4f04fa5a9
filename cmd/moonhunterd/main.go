package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/awaistahir/moonhunter/internal/api"
	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/config"
	"github.com/awaistahir/moonhunter/internal/logging"
)

func main() {
	var cfgFile string
	var addr string
	var dataDir string

	rootCmd := &cobra.Command{
		Use:          "moonhunterd",
		Short:        "Moonhunter HTTP API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if dataDir != "" {
				v.Set("data_dir", dataDir)
			}
			if addr != "" {
				v.Set("server.addr", addr)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("starting: %w", err)
			}
			defer a.Close()

			srv := api.NewServer(a)
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting",
					"addr", cfg.Server.Addr,
					"data_dir", cfg.DataDir,
					"db", cfg.DBPath,
					"scenes", a.Scenes.Len(),
					"illumination_source", cfg.Illumination.Source)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
			srv.Shutdown()
			return nil
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.moonhunter/config.yaml)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default is $HOME/.moonhunter)")
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (default :8080)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
