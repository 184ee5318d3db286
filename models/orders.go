package models

import (
	"time"
)

// Order is the denormalized order read model row, owned exclusively by the
// order projector. LastSequence is the per-aggregate sequence of the last
// event applied to this row; re-deliveries at or below it are skipped.
type Order struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	OrderID       string     `gorm:"uniqueIndex" json:"order_id"`
	SessionID     *string    `gorm:"index" json:"session_id"`
	LocationID    int64      `gorm:"index" json:"location_id"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	Status        string     `gorm:"index" json:"status"`
	Subtotal      int64      `json:"subtotal"`
	Tax           int64      `json:"tax"`
	Tip           int64      `json:"tip"`
	Discount      int64      `json:"discount"`
	Total         int64      `json:"total"`
	TaxRateBps    int64      `json:"tax_rate_bps"`
	PaymentStatus string     `json:"payment_status"`
	ItemsCount    int        `json:"items_count"`
	CancelReason  *string    `json:"cancel_reason"`
	ConfirmedAt   *time.Time `json:"confirmed_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	LastSequence  int64      `json:"last_sequence"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OrderItem is one denormalized order line.
type OrderItem struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OrderID       string    `gorm:"index" json:"order_id"`
	LineItemID    string    `gorm:"uniqueIndex" json:"line_item_id"`
	ItemID        int64     `json:"item_id"`
	Name          string    `json:"name"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"unit_price"`
	Modifiers     []byte    `json:"modifiers"`
	TotalPrice    int64     `json:"total_price"`
	KitchenStatus string    `json:"kitchen_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderStatusHistory is one row per customer-visible status change. The
// unique EventID index makes inserting the same event twice a no-op.
type OrderStatusHistory struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	OrderID    string    `gorm:"index" json:"order_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Notes      string    `json:"notes"`
	ChangedAt  time.Time `json:"changed_at"`
	CreatedAt  time.Time `json:"created_at"`
}
