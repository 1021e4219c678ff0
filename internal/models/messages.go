package models

// StatusUpdateMessage is published by the inbound webhook handler after a
// status update is derived, and consumed by the fan-out dispatcher.
type StatusUpdateMessage struct {
	StatusUpdateID string `json:"status_update_id"`
}

// DeliveryMessage represents the message published to the delivery queue
type DeliveryMessage struct {
	DeliveryID string `json:"delivery_id"`
}
