package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phobosrover/phobosexec/archive"
	"github.com/phobosrover/phobosexec/config"
	"github.com/phobosrover/phobosexec/dispatch"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/loco"
	"github.com/phobosrover/phobosexec/monitoring"
	"github.com/phobosrover/phobosexec/script"
	"github.com/phobosrover/phobosexec/session"
	"github.com/phobosrover/phobosexec/timing"
	"github.com/phobosrover/phobosexec/tracing"
)

const monitorShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run the executive, driven by a script if one is given.",
	Long: `Run the executive. With a script, the commands of the script are ` +
		`executed at their scheduled times and the executive stops at the end ` +
		`of the script. Without a script the executive would take commands ` +
		`from the communication link, which is not available yet, so it ` +
		`stops after its first cycle.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scriptPath := ""
		if len(args) == 1 {
			scriptPath = args[0]
		}

		return runExec(cmd.Context(), cfg, scriptPath, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runExec(
	ctx context.Context,
	cfg *config.Config,
	scriptPath string,
	out io.Writer,
) error {
	sess, err := session.Create(cfg.Exec.SessionRoot, time.Now())
	if err != nil {
		return err
	}

	session.Banner(out, sess)

	logger, logFile, err := session.NewLogger(sess, session.LogOptions{
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, out)
	if err != nil {
		return err
	}

	atexit.Register(func() {
		_ = logger.Sync()
		_ = logFile.Close()
	})
	defer logFile.Close()
	defer logger.Sync() //nolint:errcheck

	stopSignals := handleSignals(logger)
	defer stopSignals()

	var interp *script.Interpreter

	if scriptPath != "" {
		logger.Info("Script path found, initialising the interpreter")

		interp, err = script.Load(scriptPath, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("No script path found")
	}

	session.Rule(out)
	logger.Info("Initialising modules")

	ctrl := loco.NewLocoCtrl(cfg.Loco, logger).
		WithArchiveBatchSize(cfg.Archive.BatchSize)
	if err := session.PrintParams(
		out, "LocomotionControl.params", ctrl.Params()); err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(ctrl, logger)

	builder := executive.MakeBuilder().
		WithFreq(timing.Freq(cfg.Exec.FreqHz)).
		WithLogger(logger)
	if interp != nil {
		builder = builder.WithSource(interp).WithDispatcher(dispatcher)
	}

	var manager *archive.Manager
	if cfg.Archive.Enabled {
		manager = archive.NewManager(logger)
		builder = builder.WithArchive(manager)
	}

	engine := builder.Build()

	if manager != nil {
		manager.Register(executive.ExecArchTable,
			executive.NewExecArchive(engine, cfg.Archive.BatchSize))
		manager.Register(loco.ArchTable, ctrl)

		if err := manager.Create(sess.Path); err != nil {
			return err
		}

		logger.Info("Archives created", zap.String("dir", manager.Dir()),
			zap.Strings("modules", manager.Modules()))
	}

	cycleTracer := tracing.NewCycleTimeTracer(logger)
	commandTracer := tracing.NewCommandCountTracer()
	tracing.CollectTrace(engine, cycleTracer)
	tracing.CollectTrace(engine, commandTracer)

	session.Rule(out)

	params := ctrl.Params()
	err = runWithMonitor(ctx, cfg.Monitor, engine, interp,
		map[string]any{"loco_params": &params, "config": cfg}, logger)

	// The engine closes the archives when it stops. If it never started,
	// they are closed here.
	if manager != nil && engine.Status().State == executive.Idle {
		err = errors.Join(err, manager.Close())
	}

	for _, tag := range commandTracer.GetTags() {
		logger.Info("Commands dispatched",
			zap.String("type", tag),
			zap.Uint64("count", commandTracer.GetCount(tag)),
			zap.Uint64("failed", commandTracer.GetFailedCount(tag)))
	}

	return err
}

func runWithMonitor(
	ctx context.Context,
	cfg config.MonitorConfig,
	engine *executive.Engine,
	interp *script.Interpreter,
	objects map[string]any,
	logger *zap.Logger,
) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Enabled {
		m := monitoring.NewMonitor(logger).WithPortNumber(cfg.Port)
		m.RegisterEngine(engine)
		for name, obj := range objects {
			m.RegisterObject(name, obj)
		}

		if interp != nil {
			bar := m.CreateProgressBar(interp.Name(), uint64(interp.Total()))
			engine.AcceptHook(monitoring.NewCommandProgressHook(m, bar))
		}

		addr, err := m.StartServer()
		if err != nil {
			return err
		}

		if cfg.OpenBrowser {
			m.OpenBrowser(addr)
		}

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), monitorShutdownTimeout)
			defer cancel()

			return m.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()

		_, err := engine.Run()

		return err
	})

	return g.Wait()
}

// handleSignals makes an interrupt flush the archives and logs before the
// process exits.
func handleSignals(logger *zap.Logger) (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})

	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			logger.Warn(fmt.Sprintf("Received %v, flushing archives", sig))
			atexit.Exit(130)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
