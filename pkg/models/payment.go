package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod names how a trip is settled.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodWallet PaymentMethod = "wallet"
)

// ValidPaymentMethod reports whether s names a known payment method.
func ValidPaymentMethod(s string) bool {
	switch PaymentMethod(s) {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodWallet:
		return true
	}
	return false
}

// PaymentStatus is the state of a single Payment row.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Payment is the outcome of running the payment pipeline against a Trip. The
// idempotency key is unique at the storage layer; two payment attempts with
// the same key must resolve to the same row.
type Payment struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	TripID         uuid.UUID     `json:"trip_id" db:"trip_id"`
	Amount         float64       `json:"amount" db:"amount"`
	Currency       string        `json:"currency" db:"currency"`
	Method         PaymentMethod `json:"method" db:"method"`
	Status         PaymentStatus `json:"status" db:"status"`
	PSPRef         *string       `json:"psp_ref,omitempty" db:"psp_ref"`
	PSPResponse    *string       `json:"psp_response,omitempty" db:"psp_response"`
	IdempotencyKey string        `json:"idempotency_key" db:"idempotency_key"`
	ErrorCode      *string       `json:"error_code,omitempty" db:"error_code"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}
