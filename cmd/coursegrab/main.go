package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"coursegrab/internal/app"
	"coursegrab/internal/cache"
	"coursegrab/internal/catalog"
	"coursegrab/internal/common/config"
	"coursegrab/internal/common/logger"
	"coursegrab/internal/common/messaging"
	"coursegrab/internal/downloader"
	"coursegrab/internal/events"
	"coursegrab/pkg/models"

	"github.com/sirupsen/logrus"
)

func main() {
	units := flag.String("units", "", "comma separated unit numbers to download (default all)")
	videos := flag.String("videos", "", "comma separated video positions within the selected units (default all)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <course-url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	courseURL := flag.Arg(0)

	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg)
	clog := logger.NewComponentLogger(log, "cli")

	appCfg := cfg.GetAppConfig()
	clog.WithField("env", appCfg.Env).Infof("%s starting", appCfg.Name)
	clog.Infof("Downloader configuration: %+v", *cfg.GetDownloaderConfig())

	// Event publishing is optional; without a broker the run is CLI-only
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMq.URL != "" {
		msgClient, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
		if err != nil {
			clog.WithError(err).Warn("Broker unavailable, continuing without event stream")
		} else {
			defer msgClient.Close()
			publisher = events.NewBrokerPublisher(msgClient, cfg.RabbitMq.Exchange, log)
		}
	}

	session := catalog.NewSession(cfg.GetCatalogConfig(), log)
	discoverer := catalog.NewChromeDiscoverer(cfg.GetCatalogConfig(), session, log)
	manifestCache := cache.New(cfg.GetCacheConfig(), log)

	runner := app.NewRunner(cfg, manifestCache, session, discoverer, publisher, log)

	// Missing external tools are the only fatal precondition
	if err := runner.CheckPreconditions(); err != nil {
		clog.Fatalf("Cannot start: %s", err)
	}

	// Cancel discovery on SIGINT/SIGTERM; admitted jobs still run to a
	// terminal outcome
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		clog.WithField("signal", sig.String()).Info("Shutting down...")
		cancel()
	}()

	selection := models.Selection{
		Units:  parsePositions(*units),
		Videos: parsePositions(*videos),
	}

	stats, err := runner.DownloadCourse(ctx, courseURL, selection)
	if err != nil {
		if errors.Is(err, downloader.ErrNothingCompleted) {
			clog.Warn("Nothing was downloaded or skipped; your session may have expired, check credentials and retry")
		} else {
			clog.WithError(err).Error("Run failed")
		}
	}

	clog.WithFields(logrus.Fields{
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}).Info("Run finished")
}

// parsePositions turns "1,3,5" into []int, ignoring malformed entries.
func parsePositions(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}
