/**
 * @description
 * This file implements the background watcher: an optimistic confirmation
 * loop fed by the source-chain log subscription. Every signature mentioning
 * the receiver token account is inspected; valid exact-amount transfers are
 * confirmed on the target chain without waiting for an API verify request.
 *
 * The watcher is best-effort. Any failure just drops the signature and the
 * API verification path remains the reliable fallback.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/paybridge/oracle-service/internal/domain"
)

// maxSeenSignatures bounds the dedupe set. When the cap is hit the set is
// cleared; the target-chain idempotency check still prevents double crediting.
const maxSeenSignatures = 10_000

// SignatureSource streams source-chain transaction signatures to inspect.
type SignatureSource interface {
	SubscribeSignatures(ctx context.Context) (<-chan string, error)
	ReceiverAccount() string
}

// Watcher consumes a signature stream and submits confirmations for the
// transfers that check out.
type Watcher struct {
	source   SignatureSource
	verifier SourceVerifier
	target   TargetChain

	fetchAttempts int
	fetchDelay    time.Duration

	mu   sync.Mutex
	seen map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

// NewWatcher creates a watcher. fetchAttempts and fetchDelay control how long
// it polls for a transaction that the stream announced before the RPC node
// can serve it.
func NewWatcher(source SignatureSource, verifier SourceVerifier, target TargetChain, fetchAttempts int, fetchDelay time.Duration) *Watcher {
	if fetchAttempts < 1 {
		fetchAttempts = 1
	}
	return &Watcher{
		source:        source,
		verifier:      verifier,
		target:        target,
		fetchAttempts: fetchAttempts,
		fetchDelay:    fetchDelay,
		seen:          make(map[string]struct{}),
		sleep:         sleepCtx,
	}
}

// Run blocks consuming the subscription until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	signatures, err := w.source.SubscribeSignatures(ctx)
	if err != nil {
		return err
	}
	log.Printf("level=info component=watcher msg=\"watching for incoming transfers\" receiver=%s", w.source.ReceiverAccount())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signatures:
			if !ok {
				return ctx.Err()
			}
			if !w.markSeen(sig) {
				continue
			}
			w.handleSignature(ctx, sig)
		}
	}
}

// handleSignature fetches, validates, and confirms a single signature.
func (w *Watcher) handleSignature(ctx context.Context, sig string) {
	details := w.fetchWithRetry(ctx, sig)
	if details == nil {
		return
	}
	if !details.IsValid {
		log.Printf("level=debug component=watcher msg=\"ignoring transaction\" signature=%s reason=%q", sig, details.Reason)
		return
	}
	if details.Receiver != w.source.ReceiverAccount() {
		return
	}
	if details.Confirmations < 1 {
		return
	}

	processed, err := w.target.IsTransactionProcessed(ctx, sig)
	if err != nil {
		log.Printf("level=warn component=watcher msg=\"idempotency check failed\" signature=%s error=%q", sig, err)
		return
	}
	if processed {
		return
	}

	outcome, err := w.target.ConfirmPayment(ctx, sig, details.Sender, details.Amount, details.BlockTime, details.Slot)
	if err != nil {
		log.Printf("level=warn component=watcher msg=\"confirmation failed\" signature=%s error=%q", sig, err)
		return
	}
	log.Printf("level=info component=watcher msg=\"transfer confirmed\" signature=%s amount=%d sender=%s target_tx=%s",
		sig, details.Amount, details.Sender, outcome.TxHash)
}

// fetchWithRetry polls GetTransferDetails until the transaction is visible
// with at least one confirmation, or attempts are exhausted. RPC nodes often
// lag the log stream by a slot or two, and a transfer fetched in its own slot
// reports zero confirmations.
func (w *Watcher) fetchWithRetry(ctx context.Context, sig string) *domain.VerificationResult {
	for attempt := 1; attempt <= w.fetchAttempts; attempt++ {
		details, err := w.verifier.GetTransferDetails(ctx, sig)
		if err == nil && ((details.IsValid && details.Confirmations >= 1) || attempt == w.fetchAttempts) {
			return details
		}
		if err != nil {
			log.Printf("level=warn component=watcher msg=\"fetch failed\" signature=%s attempt=%d error=%q", sig, attempt, err)
		}
		if attempt < w.fetchAttempts {
			if sleepErr := w.sleep(ctx, w.fetchDelay); sleepErr != nil {
				return nil
			}
		}
	}
	return nil
}

func (w *Watcher) markSeen(sig string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.seen[sig]; dup {
		return false
	}
	if len(w.seen) >= maxSeenSignatures {
		w.seen = make(map[string]struct{})
	}
	w.seen[sig] = struct{}{}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
