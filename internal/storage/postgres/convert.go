package postgres

import (
	"github.com/jkaninda/orderdesk/internal/orders"
)

// --- Order ---

func toOrderDomain(m *OrderModel) *orders.Order {
	o := &orders.Order{
		ID:       m.ID,
		ItemName: m.ItemName,
		Status:   orders.ParseStatus(m.Status),
		Comment:  m.Comment,
	}
	if m.PlacedAt != nil {
		t := m.PlacedAt.UTC()
		o.PlacedAt = &t
	}
	return o
}

func toOrderModel(o *orders.Order, number int) OrderModel {
	m := OrderModel{
		ID:       o.ID,
		Number:   number,
		ItemName: o.ItemName,
		Status:   o.Status.String(),
		Comment:  o.Comment,
	}
	if o.PlacedAt != nil {
		t := o.PlacedAt.UTC()
		m.PlacedAt = &t
	}
	return m
}
