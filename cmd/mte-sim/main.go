package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/app"
	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
	"github.com/taoyao-code/mte-gateway/internal/httpserver"
	"github.com/taoyao-code/mte-gateway/internal/logging"
	"github.com/taoyao-code/mte-gateway/internal/metrics"
	"github.com/taoyao-code/mte-gateway/internal/simulator"
)

type simFlags struct {
	config      string
	addr        string
	metricsAddr string
	nak         bool
}

func newRootCmd() *cobra.Command {
	flags := &simFlags{}
	cmd := &cobra.Command{
		Use:   "mte-sim",
		Short: "CL3013 instrument simulator",
		Long: `mte-sim listens on TCP and answers connect, read, write, start/stop and
poll commands like a CL3013 instrument. Settings come from the simulator
section of the gateway config file; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Config file (default $MTE_CONFIG or configs/example.yaml)")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address, overrides simulator.addr")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Expose /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&flags.nak, "nak", false, "Reject every write request")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, flags *simFlags) error {
	cfg, err := cfgpkg.Load(flags.config)
	if err != nil {
		return err
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	simCfg := simulatorConfig(cfg.Simulator)
	if cmd.Flags().Changed("addr") {
		simCfg.Addr = flags.addr
	}
	if flags.nak {
		simCfg.NakWrites = true
	}

	reg, appm := app.NewMetrics()
	sim := simulator.New(simCfg, logger)
	sim.SetMetricsCallbacks(
		func() { appm.SimAccepted.Inc() },
		func(n int) { appm.SimBytesReceived.Add(float64(n)) },
	)
	if err := sim.Start(); err != nil {
		return err
	}
	logger.Info("simulator started",
		zap.String("addr", sim.Addr()),
		zap.Uint8("station", simCfg.StationAddr),
		zap.Bool("nak_writes", simCfg.NakWrites))

	var httpSrv *httpserver.Server
	if flags.metricsAddr != "" {
		httpSrv = httpserver.New(cfgpkg.HTTPConfig{Addr: flags.metricsAddr}, cfg.Metrics.Path, metrics.Handler(reg), nil)
		go func() {
			if err := httpSrv.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(ctx)
	}
	return sim.Shutdown(ctx)
}

// simulatorConfig 配置文件 → 模拟仪器配置
func simulatorConfig(c cfgpkg.SimulatorConfig) simulator.Config {
	silent := make([]byte, 0, len(c.Silent))
	for _, cmd := range c.Silent {
		if cmd >= 0 && cmd <= 0xFF {
			silent = append(silent, byte(cmd))
		}
	}
	return simulator.Config{
		Addr:         c.Addr,
		StationAddr:  byte(c.StationAddr),
		ReadTimeout:  c.ReadTimeout,
		MaxConns:     c.MaxConns,
		NakWrites:    c.NakWrites,
		Silent:       silent,
		TestErrorRaw: c.TestErrorRaw,
	}
}
