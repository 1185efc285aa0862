package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zerfoo/siphon/internal/config"
	"github.com/zerfoo/siphon/internal/logging"
	"github.com/zerfoo/siphon/internal/telemetry"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/engine/bridge"
	"github.com/zerfoo/siphon/pkg/engine/native"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/optimize"
	"github.com/zerfoo/siphon/pkg/siphon"
)

type rootOptions struct {
	load       string
	save       string
	saveONNX   string
	optimize   bool
	configPath string
	logLevel   string
	logFile    string
	device     string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "siphon",
		Short: "Convert models between the native format and ONNX",
		Long: `siphon loads a model directory (init/pred nets, an ONNX model and a
value_info.json placeholder manifest), optionally optimizes it, and saves it
as a native directory or as an ONNX model.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.load, "load", "", "model directory to load")
	f.StringVar(&o.save, "save", "", "directory to save the native model to")
	f.StringVar(&o.saveONNX, "save-onnx", "", "path of the ONNX model to write")
	f.BoolVar(&o.optimize, "optimize", false, "run the optimization passes before saving")
	f.StringVar(&o.device, "device", "", "device for folded and imported ops (cpu, cuda, cuda:N)")
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&o.logFile, "log-file", "", "file receiving a copy of the log, empty for stderr only")

	cmd.AddCommand(newInspectCmd(), newDownloadCmd())
	return cmd
}

// loadConfig applies flag overrides to the configuration file.
func loadConfig(cmd *cobra.Command, o *rootOptions) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if flags.Changed("device") {
		cfg.Device = o.device
	}
	if o.optimize {
		cfg.Optimize.Enabled = true
	}
	return cfg, cfg.Validate()
}

func runRoot(cmd *cobra.Command, o *rootOptions) (err error) {
	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.NewTo(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeLog()) }()

	if o.load == "" && o.save == "" && o.saveONNX == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "no argument")
		logger.Debug("nothing to load or save")
		return nil
	}

	ctx := cmd.Context()
	if cfg.Telemetry.TraceFile != "" {
		shutdown, terr := startTracing(cfg.Telemetry.TraceFile)
		if terr != nil {
			return terr
		}
		defer func() { err = errors.Join(err, shutdown(context.WithoutCancel(ctx))) }()
	}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if cfg.Telemetry.MetricsFile != "" {
		defer func() { err = errors.Join(err, telemetry.WriteMetrics(cfg.Telemetry.MetricsFile, reg)) }()
	}

	device, err := netdef.ParseDevice(cfg.Device)
	if err != nil {
		return err
	}
	h := engine.NewHandle(starter(cfg, logger), engine.WithLogger(logger), engine.WithMetrics(metrics))
	s, err := siphon.New(ctx, h,
		siphon.WithLogger(logger),
		siphon.WithMetrics(metrics),
		siphon.WithDevice(device),
		siphon.WithOpset(cfg.Opset),
		siphon.WithOptimizeOptions(optimize.Options{LegacyInitComparison: cfg.Optimize.LegacyInitComparison}),
	)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Close()) }()

	if o.load != "" {
		if _, err := s.Load(ctx, o.load); err != nil {
			return err
		}
		if s.Manifest().Len() > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Placeholders:")
			fmt.Fprint(cmd.OutOrStdout(), s.ShowValueInfo("  "))
		}
	}
	if cfg.Optimize.Enabled {
		l, err := s.Optimize(ctx)
		if err != nil {
			return err
		}
		logger.Info("optimized", "init", l.Init, "pred", l.Pred, "changed", l.Changed)
	}
	if o.save != "" {
		if err := s.Save(ctx, o.save); err != nil {
			return err
		}
	}
	if o.saveONNX != "" {
		if err := s.SaveONNX(ctx, o.saveONNX); err != nil {
			return err
		}
	}
	return nil
}

func starter(cfg config.Config, logger *slog.Logger) engine.Starter {
	if cfg.Engine.Kind == "bridge" {
		return bridge.Starter(cfg.Engine.Command, cfg.Engine.Args, logger)
	}
	return native.Starter(
		native.WithLogger(logger),
		native.WithOpset(cfg.Opset),
		native.WithVersion(version),
	)
}

func startTracing(path string) (func(context.Context) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	shutdown, err := telemetry.InitTracing(f, version)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		return errors.Join(shutdown(ctx), f.Close())
	}, nil
}

