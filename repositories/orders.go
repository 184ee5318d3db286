package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/models"
)

// OrderRepository owns the orders, order_items and order_status_histories
// read-model tables. Only the order projector writes through it; query
// methods serve external readers.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	SaveOrderItem(ctx context.Context, item *models.OrderItem) error
	DeleteOrderItem(ctx context.Context, lineItemID string) error
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)
	ListOrdersForLocation(ctx context.Context, locationID int64, statuses []string) ([]models.Order, error)
	TruncateAll(ctx context.Context) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a GORM-backed order repository.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) SaveOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *orderRepository) SaveOrderItem(ctx context.Context, item *models.OrderItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *orderRepository) DeleteOrderItem(ctx context.Context, lineItemID string) error {
	return r.db.WithContext(ctx).Where("line_item_id = ?", lineItemID).Delete(&models.OrderItem{}).Error
}

func (r *orderRepository) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *orderRepository) CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *orderRepository) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *orderRepository) ListOrdersForLocation(ctx context.Context, locationID int64, statuses []string) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Where("location_id = ?", locationID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var orders []models.Order
	if err := query.Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// TruncateAll empties every table this repository owns. Used only by the
// rebuild controller.
func (r *orderRepository) TruncateAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.OrderStatusHistory{}, &models.OrderItem{}, &models.Order{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
