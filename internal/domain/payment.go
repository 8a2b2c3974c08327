/**
 * @description
 * This file defines the core domain models for the payment oracle.
 * These structs represent the entities and data transfer objects (DTOs) used
 * throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Token amounts are integer atomic units (`uint64`); no floating point is used
 *   anywhere for money. On the wire amounts travel as decimal strings because
 *   atomic-unit values can exceed the range JSON consumers handle safely.
 * - A PaymentRequest's amount fields are immutable after creation; only `status`
 *   (plus the audit fields written on completion) ever changes.
 */

package domain

import (
	"fmt"
	"strconv"
	"time"
)

// PaymentStatus is the lifecycle state of a payment request.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusExpired   PaymentStatus = "expired"
	StatusFailed    PaymentStatus = "failed"
)

// PaymentKind selects which target-chain call a verified payment triggers and
// how ItemAmount is interpreted.
type PaymentKind string

const (
	// KindPurchaseCredit credits ItemAmount units to TargetAccount.
	KindPurchaseCredit PaymentKind = "purchase-credit"
	// KindTokenSale confirms a signature-keyed token sale payment.
	KindTokenSale PaymentKind = "token-sale"
)

// ValidKind reports whether k is one of the supported payment kinds.
func ValidKind(k PaymentKind) bool {
	return k == KindPurchaseCredit || k == KindTokenSale
}

// PaymentRequest is the unit of work bridging the two chains. It maps directly
// to the `payment_requests` table.
type PaymentRequest struct {
	ID             string        `json:"paymentId"`
	TargetAccount  string        `json:"targetAccount"`
	Kind           PaymentKind   `json:"kind"`
	ItemAmount     uint64        `json:"-"`
	ExpectedAmount uint64        `json:"-"`
	ExpectedSender *string       `json:"expectedSender,omitempty"`
	Status         PaymentStatus `json:"status"`
	TxSignature    *string       `json:"txSignature,omitempty"`
	TargetTxHash   *string       `json:"targetTxHash,omitempty"`
	FailureReason  *string       `json:"failureReason,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// IsExpired reports whether the request's payment window has closed. A
// completed payment never reads as expired.
func (p *PaymentRequest) IsExpired(now time.Time) bool {
	if p.Status == StatusCompleted {
		return false
	}
	return p.Status == StatusExpired || now.After(p.ExpiresAt)
}

// VerificationResult carries everything the verifier learned about one
// source-chain transaction. It is ephemeral and never persisted.
type VerificationResult struct {
	Signature     string
	Sender        string
	Receiver      string
	Amount        uint64
	Slot          uint64
	BlockTime     int64 // unix seconds
	Confirmations uint64
	IsValid       bool
	Reason        string
}

// CreatePaymentPayload is the DTO for POST /api/payment/create. Amounts are
// decimal strings of atomic units.
type CreatePaymentPayload struct {
	TargetAccount  string `json:"targetAccount"`
	Kind           string `json:"kind"`
	ItemAmount     string `json:"itemAmount"`
	ExpectedAmount string `json:"expectedAmount"`
	ExpectedSender string `json:"expectedSender,omitempty"`
}

// ParseAmounts parses the payload's decimal-string amounts into atomic units.
func (p CreatePaymentPayload) ParseAmounts() (itemAmount, expectedAmount uint64, err error) {
	itemAmount, err = strconv.ParseUint(p.ItemAmount, 10, 64)
	if err != nil || itemAmount == 0 {
		return 0, 0, fmt.Errorf("itemAmount must be a positive integer string")
	}
	expectedAmount, err = strconv.ParseUint(p.ExpectedAmount, 10, 64)
	if err != nil || expectedAmount == 0 {
		return 0, 0, fmt.Errorf("expectedAmount must be a positive integer string")
	}
	return itemAmount, expectedAmount, nil
}

// CreatePaymentResponse is returned to the client with payment instructions.
type CreatePaymentResponse struct {
	PaymentID    string    `json:"paymentId"`
	PayToAddress string    `json:"payToAddress"`
	Amount       string    `json:"amount"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Instructions string    `json:"instructions"`
}

// VerifyPaymentPayload is the DTO for POST /api/payment/verify.
type VerifyPaymentPayload struct {
	PaymentID       string `json:"paymentId"`
	TransactionHash string `json:"transactionHash"`
}

// SourceDetails describes the verified source-chain transfer in API responses.
type SourceDetails struct {
	Signature     string `json:"signature"`
	Sender        string `json:"sender"`
	Amount        string `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
}

// TargetDetails describes the target-chain confirmation in API responses.
type TargetDetails struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// VerifyPaymentResponse is the success body of POST /api/payment/verify.
type VerifyPaymentResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Source  SourceDetails `json:"source"`
	Target  TargetDetails `json:"target"`
}

// PaymentStatusResponse is the body of GET /api/payment/{id}: the stored
// record plus the derived expiry flag and stringified amounts.
type PaymentStatusResponse struct {
	PaymentRequest
	ItemAmount     string `json:"itemAmount"`
	ExpectedAmount string `json:"expectedAmount"`
	IsExpired      bool   `json:"isExpired"`
}

// NewPaymentStatusResponse builds the status DTO for a stored payment.
func NewPaymentStatusResponse(p *PaymentRequest, now time.Time) *PaymentStatusResponse {
	return &PaymentStatusResponse{
		PaymentRequest: *p,
		ItemAmount:     strconv.FormatUint(p.ItemAmount, 10),
		ExpectedAmount: strconv.FormatUint(p.ExpectedAmount, 10),
		IsExpired:      p.IsExpired(now),
	}
}
