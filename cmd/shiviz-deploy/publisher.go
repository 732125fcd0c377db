package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/eteu-technologies/shiviz-deployer/internal/deploy"
	"github.com/eteu-technologies/shiviz-deployer/internal/message"
)

// notifier announces published deployments on an AMQP queue. It is a no-op
// until both url and queue are set.
type notifier struct {
	url   string
	queue string

	publish func(ctx context.Context, amqpURL, amqpQueue string, data []byte) error
}

func (n *notifier) enabled() bool {
	return n.url != "" && n.queue != ""
}

func deployEvent(report *deploy.Report) message.DeployEvent {
	return message.DeployEvent{
		Tag:         string(report.Mode),
		Revision:    report.Revision.Short,
		Branch:      report.Revision.Branch,
		Destination: report.Destination,
		Minified:    report.Minified,
		SyncOK:      report.Sync.OK(),
		At:          time.Now().UTC(),
	}
}

func (n *notifier) Notify(ctx context.Context, report *deploy.Report) (err error) {
	if !n.enabled() {
		return
	}

	var data []byte
	if data, err = json.Marshal(deployEvent(report)); err != nil {
		err = fmt.Errorf("failed to marshal deploy event: %w", err)
		return
	}

	publish := n.publish
	if publish == nil {
		publish = publishAmqp
	}

	zap.L().Debug("publishing deploy event", zap.String("queue", n.queue))
	if err = publish(ctx, n.url, n.queue, data); err != nil {
		err = fmt.Errorf("failed to publish deploy event: %w", err)
		return
	}
	zap.L().Info("deploy event published", zap.String("queue", n.queue))
	return
}

func publishAmqp(ctx context.Context, amqpURL, amqpQueue string, data []byte) (err error) {
	var conn *amqp.Connection
	var ch *amqp.Channel
	var q amqp.Queue

	if err = ctx.Err(); err != nil {
		return
	}

	if conn, err = amqp.Dial(amqpURL); err != nil {
		err = fmt.Errorf("failed to connect to amqp broker: %w", err)
		return
	}
	defer conn.Close()

	if ch, err = conn.Channel(); err != nil {
		err = fmt.Errorf("failed to open a channel: %w", err)
		return
	}
	defer ch.Close()

	if q, err = ch.QueueDeclare(amqpQueue, true, false, false, false, nil); err != nil {
		err = fmt.Errorf("failed to declare a queue: %w", err)
		return
	}

	err = ch.Publish("", q.Name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Body:         data,
	})
	if err != nil {
		err = fmt.Errorf("failed to publish a message: %w", err)
		return
	}

	return
}
