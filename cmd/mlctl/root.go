package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telemetry-ml/internal/app"
	"telemetry-ml/internal/config"
	"telemetry-ml/internal/logging"
	"telemetry-ml/internal/service"
)

// cliApp holds the flags shared by every command and the lazily built service.
type cliApp struct {
	out        io.Writer
	configPath string
	useMemory  bool
	verbose    bool

	openService serviceOpener
}

// serviceOpener builds the service and returns its cleanup.
type serviceOpener func(ctx context.Context) (*service.Service, func(), error)

// newRootCmd builds the command tree. A nil open builds the service from
// --config and the environment.
func newRootCmd(out io.Writer, open serviceOpener) *cobra.Command {
	a := &cliApp{out: out, openService: open}
	if a.openService == nil {
		a.openService = a.defaultService
	}

	root := &cobra.Command{
		Use:           "mlctl",
		Short:         "Train and query device telemetry models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().BoolVar(&a.useMemory, "use-memory", false, "Use in-memory telemetry and model storage")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		newTrainAnomalyCmd(a),
		newDetectCmd(a),
		newTrainForecastCmd(a),
		newPredictForecastCmd(a),
		newModelInfoCmd(a),
	)
	return root
}

func (a *cliApp) defaultService(ctx context.Context) (*service.Service, func(), error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if a.useMemory {
		cfg.Telemetry.Backend = "memory"
		cfg.ModelStore.Backend = "memory"
	}

	logger := zap.NewNop()
	syncLogs := func() error { return nil }
	if a.verbose {
		logger, syncLogs, err = logging.New(logging.Config{Level: cfg.Log.Level, Format: "console"})
		if err != nil {
			return nil, nil, err
		}
	}

	stores, cleanup, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.New(service.Options{
		Config:    cfg,
		Telemetry: stores.Telemetry,
		Models:    stores.Models,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, func() {
		cleanup()
		_ = syncLogs()
	}, nil
}

// run opens the service, calls fn and prints its result as JSON.
func (a *cliApp) run(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, closeFn, err := a.openService(ctx)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer closeFn()

	result, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
