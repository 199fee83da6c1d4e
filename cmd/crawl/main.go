package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"outlet-watcher/alert"
	"outlet-watcher/crawler"
	"outlet-watcher/internal/types"
	"outlet-watcher/sink"
	"outlet-watcher/utils"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	var (
		startFlag   = flag.String("start", "", "Category or /shop/ product URL to crawl (default: <base>/c/mens)")
		limitFlag   = flag.Int("limit", 0, "Stop after this many PDPs (0 = no limit)")
		startAtFlag = flag.Int("start-at", -1, "Resume from this 0-based PDP index")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	var cfg types.Config
	if err := envconfig.Process("OUTLET", &cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *limitFlag > 0 {
		cfg.Limit = *limitFlag
	}
	if *startAtFlag >= 0 {
		cfg.StartAt = *startAtFlag
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	startURL := *startFlag
	if startURL == "" {
		startURL = cfg.BaseURL + "/c/mens"
	}

	csvSink, err := sink.NewCSVSink(cfg.OutputCSV, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize CSV sink: %v", err)
	}
	store, err := sink.OpenStore(cfg.OutputDB)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	httpClient := utils.NewHTTPClient(&cfg, logger)
	defer httpClient.Close()

	var decider *alert.Decider
	if cfg.AlertWebhook != "" {
		notifier := alert.NewWebhookNotifier(cfg.AlertWebhook, httpClient, logger)
		decider = alert.NewDecider(store, notifier, logger)
	} else {
		decider = alert.NewDecider(store, nil, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser := utils.NewBrowserClient(&cfg, logger)
	c := crawler.New(&cfg, logger, browser, httpClient, csvSink, store, decider)

	logger.Infof("Starting crawl from %s", startURL)
	if err := c.Run(ctx, startURL); err != nil {
		logger.Fatalf("Crawl failed: %v", err)
	}
	logger.Info("Crawl completed")
}
