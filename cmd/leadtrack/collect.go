package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/collector"
	"github.com/williampepple1/lead-tracker/internal/io"
)

var collectFlags struct {
	addr  string
	nonce string
	out   string
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a development collector that receives tracking events",
	RunE:  runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringVar(&collectFlags.addr, "addr", ":8090", "Listen address")
	f.StringVar(&collectFlags.nonce, "nonce", "", "Required nonce (any nonce is accepted when empty)")
	f.StringVar(&collectFlags.out, "out", "events.jsonl", "Append received events to this file")
}

func runCollect(cmd *cobra.Command, args []string) error {
	events, err := io.OpenEventLog(collectFlags.out)
	if err != nil {
		return err
	}
	defer events.Close()

	srv := &http.Server{
		Addr:              collectFlags.addr,
		Handler:           collector.New(collectFlags.nonce, events.Append, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Collector listening",
			zap.String("addr", collectFlags.addr),
			zap.String("events", collectFlags.out))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Collector stopped")
	return nil
}
