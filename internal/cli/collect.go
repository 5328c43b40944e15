package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/collector"
	"github.com/aniasusual/blind/internal/eventlog"
	"github.com/aniasusual/blind/internal/export"
	"github.com/aniasusual/blind/internal/metrics"
	"github.com/aniasusual/blind/internal/output"
)

// CollectCmd runs the collector: it accepts probe connections, builds the
// session log and optionally exports a snapshot on shutdown.
type CollectCmd struct {
	Listen      string `short:"l" default:"${config_endpoint}" help:"Ingest listen address"`
	MetricsAddr string `help:"Serve prometheus metrics on this address (disabled when empty)"`
	MaxEvents   int    `help:"Retain at most this many events, dropping the oldest (0 = unbounded)"`
	Output      string `short:"o" help:"Write a session snapshot to this file on shutdown"`
	Compress    bool   `help:"zstd-compress the snapshot file"`
	DB          string `help:"Also write the snapshot into this SQLite database"`
}

// Run executes the collect command.
func (c *CollectCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger := newZapLogger(globals)
	defer logger.Sync()

	var logOpts []eventlog.Option
	if c.MaxEvents > 0 {
		logOpts = append(logOpts, eventlog.WithMaxEvents(c.MaxEvents))
	}
	session := collector.NewSession(uuid.NewString(), logger, logOpts...)

	m := metrics.New()
	server := collector.NewServer(session, logger, m)
	if err := server.Listen(c.Listen); err != nil {
		return outputErrorCommon(globals, "LISTEN_FAILED", err.Error())
	}

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	if !globals.Quiet {
		if globals.Format == "ndjson" {
			output.NewNDJSONWriter(globals.Stdout).Write("ready", map[string]interface{}{
				"session": session.ID(),
				"listen":  server.Addr(),
			})
		} else {
			fmt.Fprintf(globals.Stderr, "Collecting on %s (session %s)\n", server.Addr(), session.ID())
			fmt.Fprintln(globals.Stderr, "Press Ctrl+C to stop")
		}
	}

	if err := server.Serve(ctx); err != nil {
		return outputErrorCommon(globals, "SERVE_FAILED", err.Error())
	}

	return c.finish(globals, session)
}

// finish exports the captured session and prints a summary.
func (c *CollectCmd) finish(globals *Globals, session *collector.Session) error {
	snap := session.ExportLog()

	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return outputErrorCommon(globals, "EXPORT_FAILED", err.Error())
		}
		err = export.WriteJSON(f, snap, c.Compress)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return outputErrorCommon(globals, "EXPORT_FAILED", err.Error())
		}
	}

	if c.DB != "" {
		if err := export.WriteSQLite(context.Background(), c.DB, snap); err != nil {
			return outputErrorCommon(globals, "EXPORT_DB_FAILED", err.Error())
		}
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write("session_end", map[string]interface{}{
			"session":     session.ID(),
			"events":      len(snap.Events),
			"files":       len(snap.Files),
			"transitions": len(snap.Transitions),
			"evicted":     snap.Evicted,
		})
	}
	if !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "Captured %s\n", snap.Summary())
	}
	return nil
}
