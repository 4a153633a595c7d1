package orders

import "time"

const day = 24 * time.Hour

// SeedOrders returns the demonstration order set, placed relative to now.
// ORD910 and ORD911 sit either side of the cancellation window boundary.
func SeedOrders(now time.Time) []Order {
	at := func(ago time.Duration) *time.Time {
		t := now.UTC().Add(-ago)
		return &t
	}
	return []Order{
		{ID: "ORD123", ItemName: "Running Shoes", Status: StatusShipped, PlacedAt: at(5 * day), Comment: "Customer requested fast delivery."},
		{ID: "ORD456", ItemName: "Laptop Stand", Status: StatusProcessing, PlacedAt: at(15 * day), Comment: "Awaiting stock."},
		{ID: "ORD789", ItemName: "Coffee Mug", Status: StatusDelivered, PlacedAt: at(2 * day), Comment: "Gift wrapped."},
		{ID: "ORD910", ItemName: "Boundary Case 10d", Status: StatusProcessing, PlacedAt: at(10 * day), Comment: "Test 10-day boundary."},
		{ID: "ORD911", ItemName: "Boundary Case 11d", Status: StatusProcessing, PlacedAt: at(11 * day), Comment: "Test 11-day boundary (ineligible)."},
		{ID: "ORD912", ItemName: "Standard Mug", Status: StatusCancelled, PlacedAt: at(4 * day), Comment: "Order previously cancelled by support."},
	}
}
