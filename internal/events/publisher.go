// Package events carries job lifecycle messages from the download engine to
// whoever watches a run (CLI logs, the web panel via RabbitMQ).
package events

import (
	"coursegrab/internal/common/config"
	"coursegrab/internal/common/messaging"
	"coursegrab/pkg/models"

	"github.com/sirupsen/logrus"
)

// Publisher receives job lifecycle events. Implementations must be safe for
// concurrent use; the scheduler publishes from every in-flight job.
type Publisher interface {
	Publish(log models.JobLog)
}

// NopPublisher discards every event. Used for plain CLI runs and tests.
type NopPublisher struct{}

func (NopPublisher) Publish(models.JobLog) {}

// BrokerPublisher forwards events to the message broker so detached
// consumers (the web panel) can follow a run. Publish failures are logged
// and dropped; the event stream is observability, not correctness.
type BrokerPublisher struct {
	client   messaging.Client
	exchange string
	log      *logrus.Logger
}

// NewBrokerPublisher creates a publisher bound to the configured exchange.
func NewBrokerPublisher(client messaging.Client, exchange string, log *logrus.Logger) *BrokerPublisher {
	return &BrokerPublisher{
		client:   client,
		exchange: exchange,
		log:      log,
	}
}

func (p *BrokerPublisher) Publish(jobLog models.JobLog) {
	if err := p.client.PublishJSON(p.exchange, config.RoutingJobLog, jobLog); err != nil {
		p.log.WithError(err).Error("Failed to publish job log")
	}
}
