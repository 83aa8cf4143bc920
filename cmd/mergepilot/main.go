// Command mergepilot evaluates, merges, and deploys pull requests from the
// command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mergepilot/pkg/bus"
	"mergepilot/pkg/config"
	"mergepilot/pkg/decision"
	"mergepilot/pkg/eventlog"
	"mergepilot/pkg/host"
	"mergepilot/pkg/logx"
	"mergepilot/pkg/metrics"
	"mergepilot/pkg/opsserver"
	"mergepilot/pkg/orchestrator"
	"mergepilot/pkg/persistence"
	"mergepilot/pkg/pipeline"
	"mergepilot/pkg/version"
)

func main() {
	var (
		configPath  string
		prNumber    int
		mode        string
		deploy      bool
		jsonOut     bool
		listenAddr  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "mergepilot.yaml", "Path to config file")
	flag.IntVar(&prNumber, "pr", 0, "Pull request number")
	flag.StringVar(&mode, "mode", "evaluate", "Operation: evaluate, merge, or status")
	flag.BoolVar(&deploy, "deploy", false, "Trigger a staging deployment after a successful merge")
	flag.BoolVar(&jsonOut, "json", false, "Print results as JSON")
	flag.StringVar(&listenAddr, "listen", "", "Serve health and metrics on this address (e.g. :8080)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("mergepilot %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	if err := run(configPath, prNumber, mode, deploy, jsonOut, listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "mergepilot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, prNumber int, mode string, deploy, jsonOut bool, listenAddr string) error {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if prNumber <= 0 {
		return fmt.Errorf("-pr is required and must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.InitializeDatabase(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store := persistence.NewStore(db)
	deployQueue := persistence.NewQueue[pipeline.DeployTask](db, "deploy")
	smokeQueue := persistence.NewQueue[pipeline.SmokeTestTask](db, "smoke-test")
	rollbackQueue := persistence.NewQueue[pipeline.RollbackTask](db, "rollback")

	recorder := metrics.NewRecorder(nil)

	var notifier *pipeline.Notifier
	if len(cfg.Notifications) > 0 {
		notifier = pipeline.NewNotifier(cfg.Notifications, http.DefaultClient, recorder.IncNotification)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Environment:      cfg.Pipeline.Environment,
		NotifyOn:         cfg.NotifyPhases(),
		StreamStatus:     cfg.Pipeline.StreamStatus,
		DeployDeadline:   cfg.Pipeline.DeployDeadline,
		SmokeDeadline:    cfg.Pipeline.SmokeDeadline,
		RollbackDeadline: cfg.Pipeline.RollbackDeadline,
	}, store, deployQueue, smokeQueue, rollbackQueue, notifier)
	if err != nil {
		return err
	}
	defer pipe.Close()

	engineCfg := cfg.EngineSettings()

	eventBus := bus.New()
	journal, err := eventlog.NewWriter(cfg.Storage.EventLogDir)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()
	detach := journal.Attach(eventBus)
	defer detach()

	var metricsQuery *metrics.QueryService
	if cfg.Metrics.PrometheusURL != "" {
		metricsQuery, err = metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			return err
		}
	}

	if listenAddr != "" {
		ops := opsserver.NewServer(db, store, []string{"deploy", "smoke-test", "rollback"}, metricsQuery)
		if err := ops.StartServer(ctx, listenAddr); err != nil {
			return err
		}
	}

	switch mode {
	case "evaluate", "merge":
		client, err := host.NewClient(host.Config{
			BaseURL:        cfg.Host.BaseURL,
			Owner:          cfg.Host.Owner,
			Repo:           cfg.Host.Repo,
			Token:          cfg.Host.Token,
			RetryAttempts:  cfg.Host.RetryAttempts,
			RetryBaseDelay: cfg.Host.RetryBaseDelay,
			RetryMaxDelay:  cfg.Host.RetryMaxDelay,
			PageSize:       cfg.Host.PageSize,
			OnRetry:        recorder.IncHostRetry,
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to create host client: %w", err)
		}

		o, err := orchestrator.New(orchestrator.Config{
			QualityThreshold:   cfg.Engine.QualityThreshold,
			RequireHumanReview: true,
			AutoDeploy:         deploy,
			DryRun:             mode == "evaluate",
		}, decision.NewEngine(&engineCfg), client, pipe, eventBus, recorder)
		if err != nil {
			return err
		}
		defer o.Dispose()

		result, err := o.Orchestrate(ctx, orchestrator.Request{PRNumber: prNumber})
		if err != nil {
			return err
		}
		return printResult(result, jsonOut, logger)
	case "status":
		statuses, err := store.ListByPR(ctx, prNumber)
		if err != nil {
			return err
		}
		return printStatuses(statuses, jsonOut, logger)
	default:
		return fmt.Errorf("unknown mode %q (want evaluate, merge, or status)", mode)
	}
}

func printResult(result *decision.MergeResult, jsonOut bool, logger *logx.Logger) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	if result.CanMerge {
		logger.Info("Mergeable via %s", result.Strategy)
		return nil
	}
	logger.Info("Blocked:")
	for _, blocker := range result.Blockers {
		logger.Info("  - %s", blocker)
	}
	return nil
}

func printStatuses(statuses []*pipeline.DeploymentStatus, jsonOut bool, logger *logx.Logger) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(statuses)
	}
	if len(statuses) == 0 {
		logger.Info("No deployments recorded")
		return nil
	}
	for _, status := range statuses {
		logger.Info("%s  %-18s  %s  updated %s", status.DeploymentID, status.Phase, status.Environment,
			status.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
