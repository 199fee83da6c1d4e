package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"outlet-watcher/dashboard"
	"outlet-watcher/internal/types"
	"outlet-watcher/sink"
)

func main() {
	_ = godotenv.Load()

	var (
		addrFlag = flag.String("addr", ":9090", "Listen address")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	var cfg types.Config
	if err := envconfig.Process("OUTLET", &cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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
	}

	store, err := sink.OpenStore(cfg.OutputDB)
	if err != nil {
		logger.Fatalf("Failed to open store at %s: %v", cfg.OutputDB, err)
	}
	defer store.Close()

	srv := dashboard.NewServer(store, logger)
	server := &http.Server{
		Addr:              *addrFlag,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof("Dashboard listening on %s (store: %s)", *addrFlag, cfg.OutputDB)
	logger.Fatal(server.ListenAndServe())
}
