package models

import (
	"time"
)

// OrderSession is the denormalized session read model row, owned
// exclusively by the session projector. CartItems is the serialized cart
// as of LastSequence.
type OrderSession struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"uniqueIndex" json:"session_id"`
	UserID         *string   `gorm:"index" json:"user_id"`
	LocationID     int64     `gorm:"index" json:"location_id"`
	Status         string    `gorm:"index" json:"status"`
	CartItems      []byte    `json:"cart_items"`
	CartItemsCount int       `json:"cart_items_count"`
	CustomerName   string    `json:"customer_name"`
	CustomerPhone  string    `json:"customer_phone"`
	CustomerEmail  string    `json:"customer_email"`
	TableNumber    string    `json:"table_number"`
	ServingType    *string   `json:"serving_type"`
	PaymentMethod  *string   `json:"payment_method"`
	OrderID        *string   `json:"order_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	LastSequence   int64     `json:"last_sequence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
