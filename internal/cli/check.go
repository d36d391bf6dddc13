package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/app"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/report"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/runner"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// doneGrace bounds how long the done event may trail the end of the run.
const doneGrace = 2 * time.Second

type checkOptions struct {
	browser      bool
	readyTimeout time.Duration
}

func newCheckCommand(cc *commandContext) *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Verify a list of numbers once and print the report",
		Long: `check reads numbers (one per line) from file, or from stdin when no file
is given, runs a single verification and prints the report as JSON.

Only the click-to-chat probe is used unless --browser is set. The browser
session reuses the login stored in session.user_data_dir; log in through
"wavalidator serve" first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return cc.check(ctx, text, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.browser, "browser", false, "Use the WhatsApp Web session before the click-to-chat probe")
	cmd.Flags().DurationVar(&opts.readyTimeout, "ready-timeout", 2*time.Minute, "How long to wait for the browser session to become ready")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read numbers: %w", err)
	}
	return string(data), nil
}

func (cc *commandContext) check(ctx context.Context, text string, opts checkOptions, out io.Writer) error {
	cfg := cc.cfg
	cfg.Session.Enabled = opts.browser
	logger := cc.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.browser {
		lock, err := acquireLock(lockDir(cfg))
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("release instance lock failed", zap.Error(err))
			}
		}()
	}

	a, err := app.New(ctx, cfg, logger, cc.appOptions...)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("application shutdown incomplete", zap.Error(err))
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	if err := waitReady(ctx, a.Session, opts.readyTimeout); err != nil {
		return err
	}

	feed, unsubscribe := a.Broadcaster.Subscribe(256)
	defer unsubscribe()

	if _, err := a.Runner.Start(ctx, text); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	reportFile := awaitDone(ctx, feed, a.Runner)
	if err := a.Runner.Wait(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	rep := verify.NewReport(a.Runner.State())
	if id, ok := report.ParseFileName(reportFile); ok {
		rep.ID = id
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// awaitDone follows the event feed until the run finishes and returns the
// persisted report name, or "" when the done event was missed or carried no
// report. Cancelling ctx asks the run to stop early.
func awaitDone(ctx context.Context, feed <-chan progress.Event, r *runner.Runner) string {
	finished := make(chan struct{})
	go func() {
		_ = r.Wait(context.Background())
		close(finished)
	}()
	stopping := ctx.Done()
	var grace <-chan time.Time
	for {
		select {
		case <-stopping:
			r.Stop()
			stopping = nil
		case <-finished:
			finished = nil
			grace = time.After(doneGrace)
		case <-grace:
			return ""
		case evt, ok := <-feed:
			if !ok {
				return ""
			}
			if evt.Kind == progress.KindDone {
				return evt.ReportID
			}
		}
	}
}

func waitReady(ctx context.Context, session verify.SessionProvider, timeout time.Duration) error {
	if session.Ready() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for session: %w", ctx.Err())
		case <-deadline.C:
			return runner.ErrSessionNotReady
		case <-tick.C:
			if session.Ready() {
				return nil
			}
		}
	}
}
