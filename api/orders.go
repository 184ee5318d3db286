package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/models"
	"example.com/dinehub/services/orders/repositories"
)

// OrderCommandRequest is the request envelope for order commands
type OrderCommandRequest struct {
	CommandType string          `json:"commandType"`
	Data        json.RawMessage `json:"data"`
}

// OrderResponse is an order read model row with its items
type OrderResponse struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// receiveOrderCommands processes order commands
func (s *Server) receiveOrderCommands(c *gin.Context) {
	var req OrderCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var (
		events []domain.Event
		err    error
	)

	switch req.CommandType {
	case "StartOrder":
		var cmd handlers.StartOrderCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleStartOrder(ctx, cmd)

	case "AddOrderItem":
		var cmd handlers.AddOrderItemCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleAddOrderItem(ctx, cmd)

	case "RemoveOrderItem":
		var cmd handlers.RemoveOrderItemCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleRemoveOrderItem(ctx, cmd)

	case "ChangeOrderItemQuantity":
		var cmd handlers.ChangeOrderItemQuantityCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleChangeOrderItemQuantity(ctx, cmd)

	case "ChangeOrderStatus":
		var cmd handlers.ChangeOrderStatusCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleChangeOrderStatus(ctx, cmd)

	case "CancelOrder":
		var cmd handlers.CancelOrderCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleCancelOrder(ctx, cmd)

	case "RefundOrder":
		var cmd handlers.RefundOrderCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleRefundOrder(ctx, cmd)

	case "RecordOrderPayment":
		var cmd handlers.RecordOrderPaymentCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.orderHandler.HandleRecordOrderPayment(ctx, cmd)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported command type"})
		return
	}

	if err != nil {
		writeCommandError(c, req.CommandType, err)
		return
	}

	resp := CommandResponse{EventsCount: len(events)}
	if len(events) > 0 {
		resp.AggregateID = events[0].AggregateID
		resp.LastSequence = events[len(events)-1].Sequence
	}
	c.JSON(http.StatusOK, resp)
}

// getOrder returns the order read model row with its items
func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")

	order, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		log.Error().Err(err).Str("orderID", id).Msg("Failed to load order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items, err := s.orders.GetOrderItems(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("orderID", id).Msg("Failed to load order items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, OrderResponse{Order: *order, Items: items})
}

// getOrderStatusHistory returns the status history rows for an order
func (s *Server) getOrderStatusHistory(c *gin.Context) {
	id := c.Param("id")

	history, err := s.orders.GetStatusHistory(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("orderID", id).Msg("Failed to load status history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": id, "history": history})
}

// getOrdersForLocation lists orders for a location, optionally filtered
// by a comma-separated status list.
func (s *Server) getOrdersForLocation(c *gin.Context) {
	locationID, err := strconv.ParseInt(c.Query("location_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location_id is required"})
		return
	}

	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}

	orders, err := s.orders.ListOrdersForLocation(c.Request.Context(), locationID, statuses)
	if err != nil {
		log.Error().Err(err).Int64("locationID", locationID).Msg("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
