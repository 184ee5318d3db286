package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/handlers"
)

// Command type definitions
const (
	StartSession          = "StartSession"
	AddItemToCart         = "AddItemToCart"
	RemoveItemFromCart    = "RemoveItemFromCart"
	ModifyCartItem        = "ModifyCartItem"
	SelectServingType     = "SelectServingType"
	EnterCustomerInfo     = "EnterCustomerInfo"
	SelectPaymentMethod   = "SelectPaymentMethod"
	SaveDraft             = "SaveDraft"
	AbandonSession        = "AbandonSession"
	ConvertSessionToOrder = "ConvertSessionToOrder"

	StartOrder              = "StartOrder"
	AddOrderItem            = "AddOrderItem"
	RemoveOrderItem         = "RemoveOrderItem"
	ChangeOrderItemQuantity = "ChangeOrderItemQuantity"
	ChangeOrderStatus       = "ChangeOrderStatus"
	CancelOrder             = "CancelOrder"
	RefundOrder             = "RefundOrder"
	RecordOrderPayment      = "RecordOrderPayment"
)

// CommandMessage is the common message structure
type CommandMessage struct {
	CommandType string          `json:"commandType"`
	Data        json.RawMessage `json:"data"`
}

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

type Processor struct {
	sessionHandler *handlers.SessionHandler
	orderHandler   *handlers.OrderHandler
	validate       *validator.Validate
}

func NewProcessor(sessionHandler *handlers.SessionHandler, orderHandler *handlers.OrderHandler) *Processor {
	return &Processor{
		sessionHandler: sessionHandler,
		orderHandler:   orderHandler,
		validate:       validator.New(),
	}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg CommandMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	log.Info().Str("commandType", msg.CommandType).Msg("Processing message")

	switch msg.CommandType {
	// Session commands
	case StartSession:
		var cmd handlers.StartSessionCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleStartSession(ctx, cmd)
		return err

	case AddItemToCart:
		var cmd handlers.AddItemToCartCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleAddItemToCart(ctx, cmd)
		return err

	case RemoveItemFromCart:
		var cmd handlers.RemoveItemFromCartCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleRemoveItemFromCart(ctx, cmd)
		return err

	case ModifyCartItem:
		var cmd handlers.ModifyCartItemCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleModifyCartItem(ctx, cmd)
		return err

	case SelectServingType:
		var cmd handlers.SelectServingTypeCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleSelectServingType(ctx, cmd)
		return err

	case EnterCustomerInfo:
		var cmd handlers.EnterCustomerInfoCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleEnterCustomerInfo(ctx, cmd)
		return err

	case SelectPaymentMethod:
		var cmd handlers.SelectPaymentMethodCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleSelectPaymentMethod(ctx, cmd)
		return err

	case SaveDraft:
		var cmd handlers.SaveDraftCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleSaveDraft(ctx, cmd)
		return err

	case AbandonSession:
		var cmd handlers.AbandonSessionCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleAbandonSession(ctx, cmd)
		return err

	case ConvertSessionToOrder:
		var cmd handlers.ConvertSessionToOrderCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.sessionHandler.HandleConvertSessionToOrder(ctx, cmd)
		return err

	// Order commands
	case StartOrder:
		var cmd handlers.StartOrderCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleStartOrder(ctx, cmd)
		return err

	case AddOrderItem:
		var cmd handlers.AddOrderItemCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleAddOrderItem(ctx, cmd)
		return err

	case RemoveOrderItem:
		var cmd handlers.RemoveOrderItemCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleRemoveOrderItem(ctx, cmd)
		return err

	case ChangeOrderItemQuantity:
		var cmd handlers.ChangeOrderItemQuantityCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleChangeOrderItemQuantity(ctx, cmd)
		return err

	case ChangeOrderStatus:
		var cmd handlers.ChangeOrderStatusCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleChangeOrderStatus(ctx, cmd)
		return err

	case CancelOrder:
		var cmd handlers.CancelOrderCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleCancelOrder(ctx, cmd)
		return err

	case RefundOrder:
		var cmd handlers.RefundOrderCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleRefundOrder(ctx, cmd)
		return err

	case RecordOrderPayment:
		var cmd handlers.RecordOrderPaymentCommand
		if err := p.decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.orderHandler.HandleRecordOrderPayment(ctx, cmd)
		return err

	default:
		return fmt.Errorf("unsupported command type: %s", msg.CommandType)
	}
}

// decode unmarshals the command payload and validates it before it is
// handed to a handler.
func (p *Processor) decode(data json.RawMessage, cmd interface{}) error {
	if err := json.Unmarshal(data, cmd); err != nil {
		return fmt.Errorf("error unmarshalling command: %w", err)
	}
	if err := p.validate.Struct(cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return nil
}
