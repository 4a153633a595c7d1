package postgres

import (
	"time"
)

// OrderModel maps to the "orders" table.
// Number is the numeric part of the order id and drives id allocation.
type OrderModel struct {
	ID        string     `gorm:"primaryKey;size:32"`
	Number    int        `gorm:"not null;uniqueIndex"`
	ItemName  string     `gorm:"not null"`
	Status    string     `gorm:"not null;index"`
	PlacedAt  *time.Time `gorm:"index"`
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderModel) TableName() string { return "orders" }
