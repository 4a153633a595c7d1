package orders

import (
	"fmt"
	"strconv"
	"strings"
)

// IDPrefix prefixes every order id.
const IDPrefix = "ORD"

// FirstGeneratedID is the numeric suffix handed to the first order created
// after the seed set.
const FirstGeneratedID = 913

// FormatID renders a numeric order sequence as an order id.
func FormatID(n int) string {
	return fmt.Sprintf("%s%d", IDPrefix, n)
}

// ParseIDNumber extracts the numeric suffix of an order id.
func ParseIDNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, IDPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NextID returns the id that follows the highest existing id, never going
// below FirstGeneratedID.
func NextID(existing []string) string {
	next := FirstGeneratedID
	for _, id := range existing {
		if n, ok := ParseIDNumber(id); ok && n >= next {
			next = n + 1
		}
	}
	return FormatID(next)
}
