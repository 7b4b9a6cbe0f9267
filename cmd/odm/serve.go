package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/hatlonely/odm/memstore"
)

var (
	serveAddr      string
	serveGenerator string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory document store for local development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memstore.NewStoreWithOptions(&memstore.Options{IDGenerator: serveGenerator})
		if err != nil {
			return err
		}

		gin.SetMode(gin.ReleaseMode)
		server := &http.Server{
			Addr:              serveAddr,
			Handler:           memstore.NewHandler(store),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		color.New(color.FgGreen, color.Bold).Printf("✅ memstore listening on %s\n", serveAddr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveGenerator, "id-generator", "uuid", "default id generator for undeclared entity types")
}
