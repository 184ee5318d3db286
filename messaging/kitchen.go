package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"example.com/dinehub/services/orders/domain"
)

// KitchenMessage is the payload pushed to the kitchen display queue when
// an order enters a kitchen-relevant status.
type KitchenMessage struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Items   []domain.OrderItem `json:"items"`
	Time    time.Time          `json:"time"`
}

// KitchenNotifier publishes kitchen messages to a session-enabled queue,
// keyed by order ID so updates for one order arrive in order.
type KitchenNotifier struct {
	sender *azservicebus.Sender
}

// NewKitchenNotifier creates a notifier publishing to the given queue.
func NewKitchenNotifier(client *AzureClient, queueName string) (*KitchenNotifier, error) {
	sender, err := client.client.NewSender(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating kitchen queue sender: %w", err)
	}

	return &KitchenNotifier{sender: sender}, nil
}

// NotifyOrderStatus publishes the order's current status and items.
func (n *KitchenNotifier) NotifyOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, items []domain.OrderItem) error {
	body, err := json.Marshal(KitchenMessage{
		OrderID: orderID,
		Status:  status,
		Items:   items,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("error marshalling kitchen message: %w", err)
	}

	message := &azservicebus.Message{
		Body:      body,
		SessionID: &orderID,
	}

	return n.sender.SendMessage(ctx, message, nil)
}

// Close closes the underlying sender.
func (n *KitchenNotifier) Close(ctx context.Context) error {
	return n.sender.Close(ctx)
}
