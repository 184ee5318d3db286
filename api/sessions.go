package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/repositories"
)

// SessionCommandRequest is the request envelope for session commands
type SessionCommandRequest struct {
	CommandType string          `json:"commandType"`
	Data        json.RawMessage `json:"data"`
}

// CommandResponse reports the events appended by an accepted command
type CommandResponse struct {
	AggregateID  string `json:"aggregate_id"`
	EventsCount  int    `json:"events_count"`
	LastSequence int64  `json:"last_sequence,omitempty"`
}

// receiveSessionCommands processes session commands
func (s *Server) receiveSessionCommands(c *gin.Context) {
	var req SessionCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var (
		events      []domain.Event
		aggregateID string
		err         error
	)

	switch req.CommandType {
	case "StartSession":
		var cmd handlers.StartSessionCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleStartSession(ctx, cmd)
		aggregateID = cmd.SessionID

	case "AddItemToCart":
		var cmd handlers.AddItemToCartCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleAddItemToCart(ctx, cmd)
		aggregateID = cmd.SessionID

	case "RemoveItemFromCart":
		var cmd handlers.RemoveItemFromCartCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleRemoveItemFromCart(ctx, cmd)
		aggregateID = cmd.SessionID

	case "ModifyCartItem":
		var cmd handlers.ModifyCartItemCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleModifyCartItem(ctx, cmd)
		aggregateID = cmd.SessionID

	case "SelectServingType":
		var cmd handlers.SelectServingTypeCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleSelectServingType(ctx, cmd)
		aggregateID = cmd.SessionID

	case "EnterCustomerInfo":
		var cmd handlers.EnterCustomerInfoCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleEnterCustomerInfo(ctx, cmd)
		aggregateID = cmd.SessionID

	case "SelectPaymentMethod":
		var cmd handlers.SelectPaymentMethodCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleSelectPaymentMethod(ctx, cmd)
		aggregateID = cmd.SessionID

	case "SaveDraft":
		var cmd handlers.SaveDraftCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleSaveDraft(ctx, cmd)
		aggregateID = cmd.SessionID

	case "AbandonSession":
		var cmd handlers.AbandonSessionCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleAbandonSession(ctx, cmd)
		aggregateID = cmd.SessionID

	case "ConvertSessionToOrder":
		var cmd handlers.ConvertSessionToOrderCommand
		if err = json.Unmarshal(req.Data, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err = s.sessionHandler.HandleConvertSessionToOrder(ctx, cmd)
		aggregateID = cmd.SessionID

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported command type"})
		return
	}

	if err != nil {
		writeCommandError(c, req.CommandType, err)
		return
	}

	resp := CommandResponse{AggregateID: aggregateID, EventsCount: len(events)}
	if len(events) > 0 {
		resp.AggregateID = events[0].AggregateID
		resp.LastSequence = events[len(events)-1].Sequence
	}
	c.JSON(http.StatusOK, resp)
}

// getSession returns the session read model row by session ID
func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")

	session, err := s.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.Error().Err(err).Str("sessionID", id).Msg("Failed to load session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

// getActiveSessionsForLocation lists active sessions for a location
func (s *Server) getActiveSessionsForLocation(c *gin.Context) {
	locationID, err := strconv.ParseInt(c.Query("location_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location_id is required"})
		return
	}

	sessions, err := s.sessions.GetActiveSessionsForLocation(c.Request.Context(), locationID)
	if err != nil {
		log.Error().Err(err).Int64("locationID", locationID).Msg("Failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// writeCommandError maps domain errors to HTTP status codes.
func writeCommandError(c *gin.Context, commandType string, err error) {
	log.Error().Err(err).Str("commandType", commandType).Msg("Command rejected")

	switch {
	case errors.Is(err, domain.ErrUnknownAggregate):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
