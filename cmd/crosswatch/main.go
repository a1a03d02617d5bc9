package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/crosswatchhq/crosswatch/internal/alerting"
	"github.com/crosswatchhq/crosswatch/internal/anomaly"
	"github.com/crosswatchhq/crosswatch/internal/api"
	"github.com/crosswatchhq/crosswatch/internal/config"
	"github.com/crosswatchhq/crosswatch/internal/correlation"
	"github.com/crosswatchhq/crosswatch/internal/dispatch"
	"github.com/crosswatchhq/crosswatch/internal/engine"
	"github.com/crosswatchhq/crosswatch/internal/metrics"
	"github.com/crosswatchhq/crosswatch/internal/models"
	"github.com/crosswatchhq/crosswatch/internal/source"
	"github.com/crosswatchhq/crosswatch/internal/utils"
)

func main() {
	var (
		configPath string
		runOnce    bool
		testAlert  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&runOnce, "once", false, "Run a single processing cycle and exit")
	flag.BoolVar(&testAlert, "test-alert", false, "Send a test alert through configured channels and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting crosswatch",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
	)

	if issues := cfg.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			logger.Warn("configuration issue", slog.String("issue", issue))
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher, err := buildDispatcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build dispatcher", slog.Any("error", err))
		os.Exit(1)
	}

	src, err := source.Open(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.QueryTimeout,
		utils.ComponentLogger(logger, "source"))
	if err != nil {
		logger.Error("failed to open data source", slog.Any("error", err))
		os.Exit(1)
	}
	defer src.Close()

	throttle := alerting.NewThrottle(
		utils.ComponentLogger(logger, "throttle"),
		cfg.Alerting.MinConfidence,
		cfg.Alerting.HistorySize,
	)
	correlator := correlation.NewEngine(
		utils.ComponentLogger(logger, "correlation"),
		cfg.Processing.CorrelationWindowSeconds,
	)
	scorer := anomaly.NewScorer(
		utils.ComponentLogger(logger, "anomaly"),
		anomaly.NewThresholdRule(cfg.Processing.AnomalyField, cfg.Processing.AnomalyThreshold),
	)

	processor := engine.NewProcessor(
		utils.ComponentLogger(logger, "engine"),
		src,
		correlator,
		scorer,
		throttle,
		dispatcher,
		engine.Options{FetchInterval: cfg.Processing.FetchInterval},
	)

	if testAlert {
		result := processor.TestAlert(ctx)
		printDispatchResult(result)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	if runOnce {
		summary := processor.RunCycle(ctx)
		if !summary.Success {
			logger.Error("cycle failed", slog.Any("errors", summary.Errors))
			os.Exit(1)
		}
		return
	}

	opsServer, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create ops server", slog.Any("error", err))
		os.Exit(1)
	}

	router := api.NewRouter(
		utils.ComponentLogger(logger, "api"),
		processor,
		func(c *gin.Context) models.DispatchResult {
			return processor.TestAlert(c.Request.Context())
		},
	)
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddress,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("admin server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if serveErr := opsServer.Start(); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			logger.Error("ops server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go processor.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	opsServer.Shutdown(shutdownCtx)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpServer.Shutdown(httpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("admin server shutdown", slog.Any("error", err))
	}
	cancelHTTP()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("crosswatch stopped")
}

func buildDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	channels := make([]dispatch.Channel, 0, 4)

	if cfg.Alerting.Email.Enabled {
		channels = append(channels, dispatch.NewEmailChannel(dispatch.EmailConfig{
			Host:       cfg.Alerting.Email.SMTPHost,
			Port:       cfg.Alerting.Email.SMTPPort,
			Username:   cfg.Alerting.Email.Username,
			Password:   cfg.Alerting.Email.Password,
			From:       cfg.Alerting.Email.From,
			Recipients: cfg.Alerting.Email.Recipients,
		}))
	}
	if cfg.Alerting.Slack.Enabled {
		channels = append(channels, dispatch.NewSlackChannel(cfg.Alerting.Slack.WebhookURL, nil))
	}
	if cfg.Alerting.Webhook.Enabled {
		channels = append(channels, dispatch.NewWebhookChannel(cfg.Alerting.Webhook.URL, nil))
	}
	if cfg.Alerting.SMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Alerting.SMS.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		channels = append(channels, dispatch.NewSNSChannel(sns.NewFromConfig(awsCfg), cfg.Alerting.SMS.TopicARN))
	}

	limiter := dispatch.NewRateLimiter(cfg.Alerting.RateLimitWindow)
	return dispatch.NewDispatcher(
		utils.ComponentLogger(logger, "dispatch"),
		limiter,
		cfg.Alerting.DeliveryTimeout,
		channels...,
	), nil
}

func printDispatchResult(result models.DispatchResult) {
	fmt.Printf("alert %s: success=%v rate_limited=%v attempted=%d succeeded=%d\n",
		result.AlertID, result.Success, result.RateLimited, result.Attempted, result.Succeeded)
	for _, r := range result.Results {
		status := "ok"
		detail := r.Message
		if !r.Success {
			status = "failed"
			detail = r.Error
		}
		fmt.Printf("  %s: %s (%s)\n", r.Channel, status, detail)
	}
}
