/**
 * @description
 * This file defines the `Repository` interface, the contract for all payment
 * persistence required by the oracle. Keeping the interface separate from the
 * PostgreSQL implementation lets the application layer and its tests run
 * against lightweight stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/paybridge/oracle-service/internal/domain"
)

// Repository defines the set of methods for persisting payment requests.
//
// The Mark* methods return whether a row actually transitioned: they are
// conditional single-statement updates guarded by `status = 'pending'`, so two
// racing callers cannot both observe a successful transition.
type Repository interface {
	CreatePayment(ctx context.Context, req *domain.PaymentRequest) error
	GetPayment(ctx context.Context, id string) (*domain.PaymentRequest, error)

	MarkPaymentCompleted(ctx context.Context, id, txSignature, targetTxHash string) (bool, error)
	MarkPaymentExpired(ctx context.Context, id string) (bool, error)
	MarkPaymentFailed(ctx context.Context, id, reason string) (bool, error)

	// CleanupExpiredPayments marks every pending row whose expiry has passed as
	// expired and returns the number of rows swept.
	CleanupExpiredPayments(ctx context.Context, now time.Time) (int64, error)
}
