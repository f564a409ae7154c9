package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate generates a new unique ID.
func Generate() string {
	return uuid.New().String()
}

// GenerateShort generates a shorter unique ID (first 8 chars of UUID).
func GenerateShort() string {
	return uuid.New().String()[:8]
}

// hexUpper returns n upper-case hex digits of a fresh UUID.
func hexUpper(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:n]
}

// Quote returns a quote number like Q-2026-3FA91C.
func Quote(at time.Time) string {
	return fmt.Sprintf("Q-%d-%s", at.Year(), hexUpper(6))
}

// Order returns an order number like ORD-1A2B3C4D.
func Order() string {
	return "ORD-" + hexUpper(8)
}

// Tracking returns a shipment tracking number like TRK-0123456789AB.
func Tracking() string {
	return "TRK-" + hexUpper(12)
}

// Payment returns a payment reference like PAY-1A2B3C4D5E.
func Payment() string {
	return "PAY-" + hexUpper(10)
}

// Refund returns a refund reference like RFD-1A2B3C4D5E.
func Refund() string {
	return "RFD-" + hexUpper(10)
}
