// Command probe runs the catalog once against the configured site, prints the
// JSON report and exits non-zero when any scenario did not pass.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/internal/app"
	"github.com/shehryarbajwa/gameprobe/internal/catalog"
	"github.com/shehryarbajwa/gameprobe/internal/config"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

const (
	exitFailed = 1
	exitSetup  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML config file (overrides PROBE_CONFIG)")
	baseURL := flag.String("base-url", "", "site to probe (overrides config)")
	suites := flag.String("suites", "", "comma separated suites to run; all when empty")
	out := flag.String("out", "", "write the report to this file instead of stdout")
	list := flag.Bool("list", false, "list the available suites and exit")
	flag.Parse()

	if *list {
		all, err := catalog.Default(catalog.DefaultOptions())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitSetup
		}
		fmt.Println(strings.Join(catalog.Names(all), "\n"))
		return 0
	}

	if *configPath != "" {
		os.Setenv("PROBE_CONFIG", *configPath)
	}
	if *baseURL != "" {
		os.Setenv("PROBE_BASE_URL", *baseURL)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}

	logger, err := app.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitSetup
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	probe, err := app.New(setupCtx, cfg, app.Options{
		Catalog: catalog.DefaultOptions(),
		Suites:  splitList(*suites),
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return exitSetup
	}
	defer func() {
		if err := probe.Close(); err != nil {
			logger.Warn("Failed to release browser sessions", zap.Error(err))
		}
	}()

	report := probe.Runner.Run(ctx, probe.Suites)

	if cfg.Artifacts.Archive && len(probe.Artifacts.List(report.RunID)) > 0 {
		path, err := probe.Artifacts.Archive(report.RunID)
		if err != nil {
			logger.Warn("Failed to archive artifacts", zap.Error(err))
		} else {
			logger.Info("Artifacts archived", zap.String("path", path))
		}
	}

	if err := writeReport(report, *out); err != nil {
		logger.Error("Failed to write report", zap.Error(err))
		return exitSetup
	}

	logger.Info("Run finished",
		zap.String("run", report.RunID),
		zap.Any("summary", report.Summary))
	if report.Failed() {
		return exitFailed
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeReport(report *models.Report, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
