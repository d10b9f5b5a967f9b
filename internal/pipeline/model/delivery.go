// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// DeliveryStatus is the alert dispatch result.
type DeliveryStatus string

const (
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliverySuppressed DeliveryStatus = "suppressed"
	DeliverySkipped    DeliveryStatus = "skipped"
)

// Delivery acknowledges one dispatch attempt (or the decision not to attempt).
type Delivery struct {
	Status     DeliveryStatus
	Transport  string
	Recipients int
	Error      string
}
