package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/orderdesk/internal/orders"
)

// OrderRepository implements storage.OrderRepository with GORM.
// It is shared by the PostgreSQL and SQLite backends.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an OrderRepository.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Get retrieves an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*orders.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return toOrderDomain(&model), nil
}

// List returns all orders ordered by their sequence number.
func (r *OrderRepository) List(ctx context.Context) ([]orders.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).Order("number ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	out := make([]orders.Order, 0, len(models))
	for i := range models {
		out = append(out, *toOrderDomain(&models[i]))
	}
	return out, nil
}

// Add allocates the next order id and persists a new Processing order.
func (r *OrderRepository) Add(ctx context.Context, itemName, comment string, placedAt time.Time) (*orders.Order, error) {
	o, err := orders.NewOrder(itemName, comment, placedAt)
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		if err := tx.Model(&OrderModel{}).Select("COALESCE(MAX(number), 0)").Scan(&maxNumber).Error; err != nil {
			return fmt.Errorf("reading order sequence: %w", err)
		}
		next := orders.FirstGeneratedID
		if maxNumber >= next {
			next = maxNumber + 1
		}
		o.ID = orders.FormatID(next)

		model := toOrderModel(o, next)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("creating order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Update runs fn against the current record inside a transaction and writes
// the result back only if fn succeeds. On PostgreSQL the row is locked for
// the duration of the transaction.
func (r *OrderRepository) Update(ctx context.Context, id string, fn orders.UpdateFunc) (*orders.Order, error) {
	var result *orders.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var model OrderModel
		if err := q.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", orders.ErrNotFound, id)
			}
			return fmt.Errorf("loading order: %w", err)
		}

		current := toOrderDomain(&model)
		next := current.Clone()
		if err := fn(next); err != nil {
			result = current
			return err
		}

		updates := map[string]any{
			"item_name": next.ItemName,
			"status":    next.Status.String(),
			"comment":   next.Comment,
			"placed_at": next.PlacedAt,
		}
		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating order: %w", err)
		}
		next.ID = id
		result = next
		return nil
	})
	return result, err
}

// Seed inserts orders that do not exist yet.
func (r *OrderRepository) Seed(ctx context.Context, seed []orders.Order) (int, error) {
	inserted := 0
	for i := range seed {
		o := &seed[i]
		number, ok := orders.ParseIDNumber(o.ID)
		if !ok {
			return inserted, fmt.Errorf("seeding order %q: %w: id must look like %s<number>", o.ID, orders.ErrInvalidOrder, orders.IDPrefix)
		}
		model := toOrderModel(o, number)
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if res.Error != nil {
			return inserted, fmt.Errorf("seeding order %s: %w", o.ID, res.Error)
		}
		inserted += int(res.RowsAffected)
	}
	return inserted, nil
}
