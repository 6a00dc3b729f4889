// Command statsd-aggregator runs the local statsd aggregation and flush
// engine: it receives statsd datagrams on a UDP port, coalesces them in
// memory, and forwards the compacted stream to a single downstream
// collector.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/hulu/statsd-aggregator/internal/aggregator"
	"github.com/hulu/statsd-aggregator/internal/config"
)

func main() {
	app := &cli.App{
		Name:      "statsd-aggregator",
		Usage:     "aggregate statsd metrics and forward the compacted stream downstream",
		ArgsUsage: "config-file",
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit(fmt.Sprintf("Usage: %s config.file", c.App.Name), 1)
	}

	cfg, err := config.Load(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("init_config() failed: %v", err), 1)
	}

	log := newLogger(cfg.LogLevel)

	agg, err := aggregator.New(cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize aggregator: %v", err), 1)
	}

	if cfg.MetricsListenAddress != "" {
		startMetricsServer(cfg.MetricsListenAddress, agg, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				log.Info("sighup received")
			case syscall.SIGINT:
				log.Info("sigint received")
				cancel()
				return
			}
		}
	}()

	log.Infof("started the statsd-aggregator service on port %d", cfg.DataPort)
	if err := agg.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("aggregator exited: %v", err), 1)
	}
	return nil
}

// newLogger maps the config file's numeric log_level directly onto a
// logrus level, since the five spec levels (TRACE..ERROR) are exactly
// logrus's TraceLevel..ErrorLevel.
func newLogger(level int) *logrus.Entry {
	levels := []logrus.Level{
		logrus.TraceLevel,
		logrus.DebugLevel,
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
	}
	if level < 0 {
		level = 0
	}
	if level >= len(levels) {
		level = len(levels) - 1
	}

	l := logrus.New()
	l.SetLevel(levels[level])
	return logrus.NewEntry(l)
}

// startMetricsServer exposes the aggregator's internal counters over HTTP
// in Prometheus text format. A bind failure here is logged and the
// aggregator keeps running without the metrics surface: observability must
// never be allowed to take down ingestion.
func startMetricsServer(addr string, agg *aggregator.Aggregator, log *logrus.Entry) {
	registry := prometheus.NewRegistry()
	for _, coll := range agg.Metrics().Collectors() {
		if err := registry.Register(coll); err != nil {
			log.Errorf("failed to register metric: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server failed to bind %s: %v", addr, err)
		}
	}()
	log.Infof("metrics listening on %q", addr)
}
