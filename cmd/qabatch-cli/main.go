package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qabatch/internal/adapters/catalog"
	"qabatch/internal/adapters/localassets"
	"qabatch/internal/adapters/localstorage"
	"qabatch/internal/adapters/openai"
	"qabatch/internal/config"
	"qabatch/internal/core/domain"
	"qabatch/internal/service"
	"qabatch/internal/telemetry"
	"qabatch/pkg/logger"
)

var version = "dev"

const (
	exitOK          = 0
	exitConfigError = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Optional YAML config file")
	catalogPath := flag.String("catalog", "", "Catalog JSON file (overrides catalog.path)")
	startID := flag.String("start-id", "", "Resume from this item id (e.g. 0001)")
	count := flag.Int("count", 0, "Maximum number of items to process (0 = all)")
	delay := flag.Int("delay", -1, "Seconds to wait between items (default from config)")
	outDir := flag.String("out-dir", "", "Output directory (overrides output.dir)")
	resume := flag.Bool("resume", false, "Start after the last item already in the success store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitConfigError
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *delay >= 0 {
		cfg.Pacing.DelaySeconds = *delay
	}
	if *resume && *startID != "" {
		fmt.Fprintln(os.Stderr, "Configuration error: -resume and -start-id are mutually exclusive")
		return exitConfigError
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitConfigError
	}
	defer log.Sync()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("received interrupt signal, stopping after the current item")
		cancel()
	}()

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		Version:        version,
		ExportInterval: cfg.Telemetry.ExportInterval,
		Attributes: map[string]string{
			"qabatch.model":   cfg.OpenAI.Model,
			"qabatch.catalog": cfg.Catalog.Path,
		},
	})
	if err != nil {
		log.Error("failed to initialize telemetry", zap.Error(err))
		return exitConfigError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	log.Info("=== QA Batch Generator ===",
		zap.String("catalog", cfg.Catalog.Path),
		zap.String("model", cfg.OpenAI.Model),
		zap.String("output_dir", cfg.Output.Dir),
		zap.Int("delay_seconds", cfg.Pacing.DelaySeconds),
		zap.Int("max_attempts", cfg.Retry.MaxAttempts))
	log.Debug("effective configuration", zap.Any("config", cfg.Redacted()))

	items, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		log.Error("failed to load catalog", zap.Error(err))
		return exitConfigError
	}

	// Initialize adapters
	completer, err := openai.NewClient(openai.Options{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.Model,
		MaxTokens: cfg.OpenAI.MaxTokens,
		System:    cfg.OpenAI.System,
		MaxMedia:  cfg.Images.MaxImages,
		Timeout:   cfg.OpenAI.Timeout,
	})
	if err != nil {
		log.Error("failed to initialize generation client", zap.Error(err))
		return exitConfigError
	}

	storage := localstorage.NewLocalStorage(cfg.Output.Dir, cfg.Output.SuccessFile, cfg.Output.FailureFile)

	opts := service.RunOptions{
		StartID: domain.ItemID(*startID),
		Count:   *count,
		Delay:   cfg.Pacing.Delay(),
	}
	if *resume {
		persisted, err := storage.PersistedIDs(ctx)
		if err != nil {
			log.Error("failed to read success store", zap.Error(err))
			return exitConfigError
		}
		next, ok, done := service.ResumeAfterPersisted(items, persisted)
		switch {
		case done:
			log.Info("every catalog item is already persisted, nothing to do")
			return exitOK
		case ok:
			opts.StartID = next
			log.Info("resuming after last persisted item", zap.String("start_id", string(next)))
		}
	}

	metrics, err := service.NewMetrics(tel.Meter())
	if err != nil {
		log.Error("failed to register metrics", zap.Error(err))
		return exitConfigError
	}

	orchestrator := service.NewOrchestrator(
		localassets.NewResolver(cfg.Images.Dir, cfg.Images.BaseURL, cfg.Images.MaxImages, log),
		service.NewPromptBuilder(cfg.Prompt.Domain, cfg.Prompt.Subdomain, cfg.Prompt.AudioCount),
		service.NewGenerator(completer, service.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}, log, service.WithGeneratorMetrics(metrics)),
		service.NewValidator(cfg.Prompt.AudioCount),
		storage,
		log,
		service.WithMetrics(metrics),
		service.WithTracer(tel.Tracer()),
	)

	result, err := orchestrator.Run(ctx, items, opts)
	if result == nil {
		log.Error("batch did not start", zap.Error(err))
		return exitConfigError
	}

	printSummary(os.Stdout, result)

	if errors.Is(err, context.Canceled) || result.Interrupted {
		return exitInterrupted
	}
	return exitOK
}

func printSummary(w io.Writer, result *domain.BatchResult) {
	fmt.Fprintln(w, "\n==================================================")
	fmt.Fprintln(w, "=== Batch Summary ===")
	fmt.Fprintf(w, "Run ID:       %s\n", result.RunID)
	fmt.Fprintf(w, "Selected:     %d\n", result.Selected)
	fmt.Fprintf(w, "Persisted:    %d\n", result.Persisted)
	fmt.Fprintf(w, "Failed:       %d\n", result.Failed)
	fmt.Fprintf(w, "Output:       %s\n", result.SuccessPath)
	fmt.Fprintf(w, "Error log:    %s\n", result.FailurePath)
	if result.Interrupted {
		fmt.Fprintf(w, "Interrupted:  resume with -start-id %s\n", result.NextID)
	}
	fmt.Fprintf(w, "Completed At: %s\n", result.CompletedAt.Format(time.RFC3339))
	fmt.Fprintln(w, "==================================================")
}
