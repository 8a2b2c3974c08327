/**
 * @description
 * This file contains the core business logic of the oracle service. The
 * `Service` struct orchestrates the payment lifecycle, coordinating between
 * the database repository, the source-chain verifier, and the target-chain
 * contract client.
 *
 * Key features:
 * - Implements the main use cases: payment creation, verification, and lookup.
 * - Enforces the lifecycle gates (completed, expired, in-flight) before any
 *   on-chain work happens.
 * - Dispatches the correct contract call per payment kind and settles the
 *   durable record only after the target chain accepted the call.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For payment id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/substrateclient: For target-chain error classification.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paybridge/oracle-service/internal/domain"
	"github.com/paybridge/oracle-service/internal/store"
	"github.com/paybridge/oracle-service/pkg/substrateclient"
)

var (
	// ErrPaymentCompleted is returned when a verify request targets a payment
	// that already settled.
	ErrPaymentCompleted = errors.New("payment already completed")
	// ErrPaymentExpired is returned when a verify request arrives after the
	// payment's deadline.
	ErrPaymentExpired = errors.New("payment expired")
	// ErrVerificationInProgress is returned when another request is already
	// verifying the same payment.
	ErrVerificationInProgress = errors.New("verification already in progress")
	// ErrPaymentNotVerifiable is returned for payments in a terminal failed
	// state.
	ErrPaymentNotVerifiable = errors.New("payment is not verifiable")
)

// VerificationError reports why a source-chain transaction did not satisfy a
// payment. It is a client error, not a system fault: the caller may retry
// with a different transaction.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string { return e.Reason }

// SourceVerifier checks transactions on the source chain.
type SourceVerifier interface {
	VerifyTransaction(ctx context.Context, signature string, expectedAmount uint64, expectedSender string) (*domain.VerificationResult, error)
	GetTransferDetails(ctx context.Context, signature string) (*domain.VerificationResult, error)
}

// TargetChain submits confirmations to the target-chain contract.
type TargetChain interface {
	IsTransactionProcessed(ctx context.Context, txSignature string) (bool, error)
	ConfirmPayment(ctx context.Context, txSignature, sender string, amount uint64, blockTime int64, blockNumber uint64) (*substrateclient.CallOutcome, error)
	CreditUnits(ctx context.Context, targetAccount string, amount uint64, txSignature string) (*substrateclient.CallOutcome, error)
}

// Service provides the core business logic for payment verification.
type Service struct {
	repo         store.Repository
	verifier     SourceVerifier
	target       TargetChain
	payToAddress string
	paymentTTL   time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	now func() time.Time
}

// NewService creates a new oracle service instance. payToAddress is the
// receiver token account shown to clients in payment instructions.
func NewService(repo store.Repository, verifier SourceVerifier, target TargetChain, payToAddress string, paymentTTL time.Duration) *Service {
	return &Service{
		repo:         repo,
		verifier:     verifier,
		target:       target,
		payToAddress: payToAddress,
		paymentTTL:   paymentTTL,
		inFlight:     make(map[string]struct{}),
		now:          time.Now,
	}
}

// CreatePayment registers a new payment request and returns the instructions
// the payer must follow.
func (s *Service) CreatePayment(ctx context.Context, payload domain.CreatePaymentPayload) (*domain.CreatePaymentResponse, error) {
	itemAmount, expectedAmount, err := payload.ParseAmounts()
	if err != nil {
		return nil, &VerificationError{Reason: err.Error()}
	}
	kind := domain.PaymentKind(payload.Kind)
	if !domain.ValidKind(kind) {
		return nil, &VerificationError{Reason: fmt.Sprintf("unknown payment kind %q", payload.Kind)}
	}
	if payload.TargetAccount == "" {
		return nil, &VerificationError{Reason: "targetAccount is required"}
	}
	var expectedSender *string
	if payload.ExpectedSender != "" {
		expectedSender = &payload.ExpectedSender
	}

	now := s.now().UTC()
	payment := &domain.PaymentRequest{
		ID:             newPaymentID(now),
		TargetAccount:  payload.TargetAccount,
		Kind:           kind,
		ItemAmount:     itemAmount,
		ExpectedAmount: expectedAmount,
		ExpectedSender: expectedSender,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.paymentTTL),
		UpdatedAt:      now,
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		log.Printf("level=error component=service msg=\"failed to persist payment\" payment_id=%s error=%q", payment.ID, err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	log.Printf("level=info component=service msg=\"payment created\" payment_id=%s kind=%s amount=%d expires_at=%s",
		payment.ID, payment.Kind, payment.ExpectedAmount, payment.ExpiresAt.Format(time.RFC3339))

	return &domain.CreatePaymentResponse{
		PaymentID:    payment.ID,
		PayToAddress: s.payToAddress,
		Amount:       fmt.Sprintf("%d", payment.ExpectedAmount),
		ExpiresAt:    payment.ExpiresAt,
		Instructions: fmt.Sprintf("Send exactly %d tokens to %s before %s, then submit the transaction signature for verification.",
			payment.ExpectedAmount, s.payToAddress, payment.ExpiresAt.Format(time.RFC3339)),
	}, nil
}

// GetPayment returns the current state of a payment, marking it expired on
// read if its deadline passed while it was still pending.
func (s *Service) GetPayment(ctx context.Context, id string) (*domain.PaymentStatusResponse, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if payment.Status == domain.StatusPending && payment.IsExpired(now) {
		if ok, err := s.repo.MarkPaymentExpired(ctx, payment.ID); err != nil {
			log.Printf("level=warn component=service msg=\"failed to expire payment on read\" payment_id=%s error=%q", payment.ID, err)
		} else if ok {
			payment.Status = domain.StatusExpired
		}
	}

	return domain.NewPaymentStatusResponse(payment, now), nil
}

// VerifyPayment runs the full verification pipeline for a payment against a
// source-chain transaction signature. At most one verification per payment id
// runs at a time; concurrent requests for the same id are rejected with
// ErrVerificationInProgress rather than queued.
func (s *Service) VerifyPayment(ctx context.Context, payload domain.VerifyPaymentPayload) (*domain.VerifyPaymentResponse, error) {
	if payload.PaymentID == "" || payload.TransactionHash == "" {
		return nil, &VerificationError{Reason: "paymentId and transactionHash are required"}
	}

	payment, err := s.repo.GetPayment(ctx, payload.PaymentID)
	if err != nil {
		return nil, err
	}

	// 1. Lifecycle gates before any chain access.
	switch payment.Status {
	case domain.StatusCompleted:
		return nil, ErrPaymentCompleted
	case domain.StatusExpired:
		return nil, ErrPaymentExpired
	case domain.StatusFailed:
		return nil, ErrPaymentNotVerifiable
	}
	now := s.now().UTC()
	if payment.IsExpired(now) {
		if _, err := s.repo.MarkPaymentExpired(ctx, payment.ID); err != nil {
			log.Printf("level=warn component=service msg=\"failed to mark payment expired\" payment_id=%s error=%q", payment.ID, err)
		}
		return nil, ErrPaymentExpired
	}

	// 2. Claim the in-flight slot for this payment id.
	if !s.claim(payment.ID) {
		return nil, ErrVerificationInProgress
	}
	defer s.release(payment.ID)

	log.Printf("level=info component=service msg=\"verifying payment\" payment_id=%s signature=%s", payment.ID, payload.TransactionHash)

	// 3. Source-chain verification.
	expectedSender := ""
	if payment.ExpectedSender != nil {
		expectedSender = *payment.ExpectedSender
	}
	result, err := s.verifier.VerifyTransaction(ctx, payload.TransactionHash, payment.ExpectedAmount, expectedSender)
	if err != nil {
		return nil, fmt.Errorf("source chain verification failed: %w", err)
	}
	if !result.IsValid {
		log.Printf("level=info component=service msg=\"verification rejected\" payment_id=%s reason=%q", payment.ID, result.Reason)
		return nil, &VerificationError{Reason: result.Reason}
	}

	// 4. Idempotency: the contract is the source of truth for whether this
	// signature was already consumed. A consumed signature means another
	// path already moved the funds, so the payment settles here without a
	// second submission.
	processed, err := s.target.IsTransactionProcessed(ctx, result.Signature)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	outcome := &substrateclient.CallOutcome{}
	if processed {
		log.Printf("level=info component=service msg=\"signature already consumed on target chain\" payment_id=%s signature=%s",
			payment.ID, result.Signature)
	} else {
		// 5. Submit the kind-appropriate contract call.
		outcome, err = s.submitConfirmation(ctx, payment, result)
		if err != nil {
			return nil, err
		}
	}

	// 6. Settle the durable record. The conditional update tolerates races:
	// losing it means another path already settled this payment.
	if ok, err := s.repo.MarkPaymentCompleted(ctx, payment.ID, result.Signature, outcome.TxHash); err != nil {
		log.Printf("level=error component=service msg=\"confirmed on chain but failed to persist\" payment_id=%s target_tx=%s error=%q",
			payment.ID, outcome.TxHash, err)
		return nil, fmt.Errorf("failed to record completion: %w", err)
	} else if !ok {
		log.Printf("level=warn component=service msg=\"payment settled concurrently\" payment_id=%s", payment.ID)
	}

	log.Printf("level=info component=service msg=\"payment completed\" payment_id=%s signature=%s target_tx=%s",
		payment.ID, result.Signature, outcome.TxHash)

	return &domain.VerifyPaymentResponse{
		Success: true,
		Message: "payment verified and confirmed",
		Source: domain.SourceDetails{
			Signature:     result.Signature,
			Sender:        result.Sender,
			Amount:        fmt.Sprintf("%d", result.Amount),
			Confirmations: result.Confirmations,
		},
		Target: domain.TargetDetails{
			TxHash:      outcome.TxHash,
			BlockNumber: outcome.BlockNumber,
		},
	}, nil
}

// submitConfirmation dispatches the contract call for the payment's kind and
// classifies rejections. A dispatch rejection caused by the signature having
// been consumed between our idempotency check and the call is benign: the
// money moved, so the payment is still considered settled.
func (s *Service) submitConfirmation(ctx context.Context, payment *domain.PaymentRequest, result *domain.VerificationResult) (*substrateclient.CallOutcome, error) {
	var (
		outcome *substrateclient.CallOutcome
		err     error
	)
	switch payment.Kind {
	case domain.KindPurchaseCredit:
		outcome, err = s.target.CreditUnits(ctx, payment.TargetAccount, payment.ItemAmount, result.Signature)
	default:
		outcome, err = s.target.ConfirmPayment(ctx, result.Signature, result.Sender, result.Amount, result.BlockTime, result.Slot)
	}
	if err == nil {
		return outcome, nil
	}

	if substrateclient.IsDispatchRejected(err) {
		processed, checkErr := s.target.IsTransactionProcessed(ctx, result.Signature)
		if checkErr == nil && processed {
			log.Printf("level=info component=service msg=\"dispatch rejected but signature already consumed\" payment_id=%s", payment.ID)
			return &substrateclient.CallOutcome{TxHash: "", BlockNumber: 0}, nil
		}
		reason := err.Error()
		if ok, markErr := s.repo.MarkPaymentFailed(ctx, payment.ID, reason); markErr != nil {
			log.Printf("level=error component=service msg=\"failed to mark payment failed\" payment_id=%s error=%q", payment.ID, markErr)
		} else if ok {
			log.Printf("level=warn component=service msg=\"payment failed on target chain\" payment_id=%s reason=%q", payment.ID, reason)
		}
		return nil, fmt.Errorf("target chain rejected confirmation: %w", err)
	}

	// Connectivity problems leave the payment pending and retryable.
	return nil, fmt.Errorf("target chain submission failed: %w", err)
}

func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// newPaymentID builds a sortable, collision-resistant payment id from the
// creation time and a random suffix.
func newPaymentID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
