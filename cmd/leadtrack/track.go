package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/io"
	"github.com/williampepple1/lead-tracker/internal/scraper"
	"github.com/williampepple1/lead-tracker/internal/tracker"
)

var trackFlags struct {
	url      string
	html     string
	script   string
	watch    bool
	report   string
	format   string
	endpoint string
	nonce    string
	session  string
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a visit to a listing page",
	Long: `Loads a page and records a visit to it. With --script the visit is
replayed from a JSON lines interaction script. With --watch the page is
watched for changes until interrupted.`,
	RunE: runTrack,
}

func init() {
	f := trackCmd.Flags()
	f.StringVar(&trackFlags.url, "url", "", "Page URL to load")
	f.StringVar(&trackFlags.html, "html", "", "Serve every page load from this local HTML file")
	f.StringVar(&trackFlags.script, "script", "", "Interaction script to replay (JSON lines)")
	f.BoolVar(&trackFlags.watch, "watch", false, "Watch property pages for data changes")
	f.StringVar(&trackFlags.report, "report", "", "Write a session report to this file")
	f.StringVar(&trackFlags.format, "format", "json", "Report format (json or yaml)")
	f.StringVar(&trackFlags.endpoint, "endpoint", "", "Collector endpoint URL")
	f.StringVar(&trackFlags.nonce, "nonce", "", "Collector nonce")
	f.StringVar(&trackFlags.session, "session", "", "Session id (generated when empty)")
}

func runTrack(cmd *cobra.Command, args []string) error {
	if trackFlags.url == "" && trackFlags.script == "" {
		return errors.New("one of --url or --script is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config with command-line flags if provided
	if trackFlags.endpoint != "" {
		cfg.Collector.Endpoint = trackFlags.endpoint
	}
	if trackFlags.nonce != "" {
		cfg.Collector.Nonce = trackFlags.nonce
	}
	if trackFlags.session != "" {
		cfg.Collector.SessionID = trackFlags.session
	}
	if trackFlags.watch {
		cfg.Watcher.Enabled = true
	}
	cfg.Collector.Debug = cfg.Collector.Debug || debug

	opts := []tracker.Option{tracker.WithLogger(logger)}
	if trackFlags.html != "" {
		opts = append(opts, tracker.WithLoader(scraper.NewFixedLoader(trackFlags.html)))
		if cfg.Watcher.Path == "" {
			cfg.Watcher.Path = trackFlags.html
		}
	}

	t, err := tracker.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := t.Start(ctx); err != nil {
		return err
	}

	views, runErr := visit(ctx, t)

	if runErr == nil && cfg.Watcher.Enabled {
		logger.Info("Watching for page changes, press Ctrl+C to stop")
		<-ctx.Done()
	}

	if err := t.Stop(); err != nil {
		logger.Warn("Tracker stopped with errors", zap.Error(err))
	}

	stats := t.Stats()
	logger.Info("Session finished",
		zap.String("session_id", t.SessionID()),
		zap.Int("pages", len(views)),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped))

	if trackFlags.report != "" {
		w := io.NewReportWriter(trackFlags.report, trackFlags.format)
		if err := w.SaveToFile(t.Report(views)); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		logger.Info("Report saved", zap.String("path", trackFlags.report))
	}
	return runErr
}

// visit loads the page or replays the script. A plain page load is
// followed by an analysis and an unload.
func visit(ctx context.Context, t *tracker.Tracker) ([]tracker.View, error) {
	if trackFlags.script != "" {
		steps, err := io.NewScriptReader().ReadFromFile(trackFlags.script)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		logger.Info("Replaying script", zap.String("path", trackFlags.script), zap.Int("steps", len(steps)))
		return io.NewReplayer(t, logger).Run(ctx, steps)
	}

	view, err := t.LoadPage(ctx, trackFlags.url)
	if err != nil {
		return nil, err
	}
	logger.Info("Page tracked",
		zap.String("url", view.URL),
		zap.Bool("property_page", view.Classification.Property),
		zap.Bool("search_page", view.Classification.Search))

	final := context.WithoutCancel(ctx)
	t.Analyze(final)
	t.Unload(final)
	return []tracker.View{view}, nil
}
