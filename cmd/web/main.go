package main

import (
	"fmt"

	"coursegrab/internal/common/config"
	"coursegrab/internal/common/logger"
	"coursegrab/internal/common/messaging"
	"coursegrab/internal/web/handler"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	webCfg := cfg.GetWebPanelConfig()

	// Initialize logger
	log := logger.New(cfg)
	clog := logger.NewComponentLogger(log, "web")
	clog.Infof("Web panel configuration: %+v", *webCfg)

	// Initialize message consumer
	msgClient, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
	if err != nil {
		clog.Fatalf("Failed to create RabbitMQ client: %v", err)
	}
	defer msgClient.Close()
	clog.WithField("exchange", msgClient.GetConfig().Exchange).Info("Connected to broker")

	// Initialize the gin router
	r := gin.Default()

	// Setup handlers
	queueName := cfg.RabbitMq.Queue.JobLog
	if queueName == "" {
		queueName = "job_log_queue"
	}
	h := handler.NewHandler(webCfg, queueName, log, msgClient)
	h.RegisterRoutes(r)

	// Start the web server
	addr := fmt.Sprintf("%s:%d", webCfg.Host, webCfg.Port)
	clog.WithField("addr", addr).Info("Starting monitor server")
	if err := r.Run(addr); err != nil {
		clog.Fatalf("Failed to start monitor server: %v", err)
	}
}
