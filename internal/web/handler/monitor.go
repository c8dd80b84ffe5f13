// Package handler exposes the run monitor: a JSON status API plus a
// WebSocket stream of job events consumed from the message broker.
package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"coursegrab/internal/common/config"
	"coursegrab/internal/common/messaging"
	"coursegrab/internal/web/websocket"
	"coursegrab/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves the monitor endpoints and relays broker events to
// WebSocket clients.
type Handler struct {
	webCfg    *config.WebPanelConfig
	queueName string
	log       *logrus.Logger
	msgClient messaging.Client
	wsHub     *websocket.Hub

	mu        sync.Mutex
	lastEvent *models.JobLog
	lastStats *models.RunStats
}

// NewHandler creates the monitor handler and starts consuming job events.
func NewHandler(webCfg *config.WebPanelConfig, queueName string, log *logrus.Logger, msgClient messaging.Client) *Handler {
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	h := &Handler{
		webCfg:    webCfg,
		queueName: queueName,
		log:       log,
		msgClient: msgClient,
		wsHub:     wsHub,
	}

	h.setupConsumer()
	return h
}

// setupConsumer binds the job log queue and relays every event.
func (h *Handler) setupConsumer() {
	if err := h.msgClient.DeclareQueue(h.queueName); err != nil {
		h.log.WithError(err).Error("Failed to declare job log queue")
		return
	}
	if err := h.msgClient.BindQueue(h.queueName, "", config.RoutingJobLog); err != nil {
		h.log.WithError(err).Error("Failed to bind job log queue")
		return
	}

	err := h.msgClient.Consume(h.queueName, func(message []byte) error {
		var jobLog models.JobLog
		if err := json.Unmarshal(message, &jobLog); err != nil {
			h.log.WithError(err).Error("Failed to unmarshal job log message")
			return err
		}

		h.mu.Lock()
		h.lastEvent = &jobLog
		if jobLog.Stats != nil {
			h.lastStats = jobLog.Stats
		}
		h.mu.Unlock()

		h.wsHub.Broadcast(message)
		return nil
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to setup job log consumer")
	}
}

// RegisterRoutes registers all the routes for the monitor
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", websocket.Handler(h.wsHub, h.log))

	api := r.Group("/api")
	{
		api.GET("/status", h.StatusHandler())
		api.GET("/stats", h.StatsHandler())
	}
}

// StatusHandler returns the most recent job event seen on the stream.
func (h *Handler) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.Lock()
		event := h.lastEvent
		h.mu.Unlock()

		if event == nil {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

// StatsHandler returns the aggregate counts of the most recent finished run.
func (h *Handler) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.Lock()
		stats := h.lastStats
		h.mu.Unlock()

		if stats == nil {
			c.JSON(http.StatusOK, models.RunStats{})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
