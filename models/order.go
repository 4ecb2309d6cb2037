package models

import "time"

// OrderRecord is the persisted order row as this service sees it. The
// commerce fields live elsewhere; only status and the payment linkage
// matter here. If PaymentID is set, the referenced payment's OrderID must
// point back at ID.
type OrderRecord struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
