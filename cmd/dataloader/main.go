// Command dataloader synchronizes the rows of a CSV file into entities of a
// remote REST service: it inserts or updates one entity per row, resolves
// to-one references and reconciles to-many associations.
//
// Usage:
//
//	dataloader -config run.yaml [-validate] [-log-file dataloader.log]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dataloader/internal/config"
	"dataloader/internal/metrics"
	"dataloader/internal/metrics/datadog"
	"dataloader/internal/metrics/prompush"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
		logFile           string
		logMaxMB          int
		logMaxBackups     int
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "run.yaml", "run config path (.json, .yaml or .yml)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (overrides env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")
	flag.IntVar(&logMaxMB, "log-max-mb", 100, "rotate the log file after this many megabytes")
	flag.IntVar(&logMaxBackups, "log-max-backups", 5, "rotated log files to keep")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	if logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxMB,
			MaxBackups: logMaxBackups,
			Compress:   true,
		}
		defer lj.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, lj))
	}

	r, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	r.ApplyDefaults()

	issues := config.ValidateRun(r, nil)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	backend := pick(metricsBackendFlg, os.Getenv("METRICS_BACKEND"), "none")
	flush := setupMetrics(backend, r.Job,
		pick(pushGatewayURLFlg, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091"),
		pick(statsdAddrFlg, os.Getenv("DOGSTATSD_ADDR"), "127.0.0.1:8125"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	start := time.Now()
	snap, err := run(ctx, r, os.Stdout)
	stop()
	flush()
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("completed in %s: %s", time.Since(start).Truncate(time.Millisecond), snap)
}

// setupMetrics installs the named backend and returns its flush func. An
// unusable backend leaves metrics disabled.
func setupMetrics(name, job, gatewayURL, statsdAddr string) (flush func()) {
	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		b, err = prompush.NewBackend(job, gatewayURL)
		if err == nil {
			log.Printf("metrics: url=%v, backend=%v, job_name=%v", gatewayURL, name, job)
		}
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{Addr: statsdAddr, GlobalTags: []string{"job:" + job}})
		if err == nil {
			log.Printf("metrics: addr=%v, backend=%v", statsdAddr, name)
		}
	case "", "none":
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", name, err)
		return func() {}
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

// pick returns the first non-empty value.
func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
