package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/config"
)

// sessionIdleWait is how long the consumer loop sleeps when no bus
// session currently has messages.
const sessionIdleWait = 2 * time.Second

// AzureClient wraps a Service Bus connection for the command and kitchen
// queues.
type AzureClient struct {
	client       *azservicebus.Client
	receiveBatch int
}

// NewAzureClient connects to Service Bus using the configured connection
// string.
func NewAzureClient(cfg config.Config) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.AzureQueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	batch := cfg.AzureReceiveBatch
	if batch <= 0 {
		batch = 10
	}

	return &AzureClient{client: client, receiveBatch: batch}, nil
}

// StartConsumers receives command messages from a session-enabled queue
// until accepting a session fails for a reason other than none being
// available. Producers set the bus session ID to the aggregate ID, so
// commands for one order session or order are consumed in order.
func (a *AzureClient) StartConsumers(queueName string, processor MessageProcessor) error {
	log.Info().Str("queue", queueName).Msg("Starting command consumers")

	for {
		receiver, err := a.client.AcceptNextSessionForQueue(context.Background(), queueName, nil)
		if err != nil {
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				time.Sleep(sessionIdleWait)
				continue
			}
			return err
		}

		log.Info().Str("busSessionID", receiver.SessionID()).Msg("Accepted command session")
		go a.drainSession(receiver, processor)
	}
}

// drainSession consumes one bus session to exhaustion. A failed command
// is abandoned back to the queue; the rest of the batch still completes.
func (a *AzureClient) drainSession(receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("busSessionID", receiver.SessionID()).Msg("Failed to close session receiver")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(context.Background(), a.receiveBatch, nil)
		if err != nil {
			log.Error().Err(err).Str("busSessionID", receiver.SessionID()).Msg("Failed to receive messages")
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, message := range messages {
			ctx := context.Background()
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Command failed, abandoning message")
				if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Str("messageID", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}
