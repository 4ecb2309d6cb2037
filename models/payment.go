package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusConfirmed PaymentStatus = "Confirmed"
	PaymentStatusExpired   PaymentStatus = "Expired"
	PaymentStatusCompleted PaymentStatus = "Completed"
)

// Valid reports whether s is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusExpired, PaymentStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leads out of s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusExpired || s == PaymentStatusCompleted
}

// PaymentRecord tracks one crypto payment request. PaymentID, Amount and
// Address are immutable after creation; Status only moves forward outside
// the admin override path.
type PaymentRecord struct {
	PaymentID string        `json:"payment_id"`
	OrderID   string        `json:"order_id,omitempty"`
	Amount    float64       `json:"amount"`
	Address   string        `json:"address"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Transfer is an incoming transaction as reported by the wallet. It is
// never stored; it only drives a status transition.
type Transfer struct {
	TxHash        string  `json:"tx_hash"`
	Amount        float64 `json:"amount"`
	Confirmations uint64  `json:"confirmations"`
	Timestamp     int64   `json:"timestamp"`
	Address       string  `json:"address"`
}

type CreatePaymentRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount" binding:"required,gt=0"`
}

type SubmitProofRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
	TxKey  string `json:"tx_key" binding:"required"`
}

type PaymentEvent struct {
	PaymentID string        `json:"payment_id"`
	OrderID   string        `json:"order_id,omitempty"`
	Amount    float64       `json:"amount"`
	Status    PaymentStatus `json:"status"`
	EventType string        `json:"event_type"` // payment_confirmed, payment_expired, payment_overridden
	TxHash    string        `json:"tx_hash,omitempty"`
}
