package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/paybridge/oracle-service/internal/domain"
)

type stubSignatureSource struct {
	signatures []string
	receiver   string
}

func (s *stubSignatureSource) SubscribeSignatures(ctx context.Context) (<-chan string, error) {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, sig := range s.signatures {
			select {
			case ch <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *stubSignatureSource) ReceiverAccount() string { return s.receiver }

// fetchSequenceVerifier returns canned results per signature, in order, so a
// test can model "not found yet, then visible".
type fetchSequenceVerifier struct {
	mu      sync.Mutex
	results map[string][]*domain.VerificationResult
	calls   map[string]int
}

func (v *fetchSequenceVerifier) GetTransferDetails(_ context.Context, sig string) (*domain.VerificationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.calls == nil {
		v.calls = make(map[string]int)
	}
	seq := v.results[sig]
	if len(seq) == 0 {
		return nil, errors.New("no canned result")
	}
	idx := v.calls[sig]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	v.calls[sig]++
	res := *seq[idx]
	return &res, nil
}

func (v *fetchSequenceVerifier) VerifyTransaction(ctx context.Context, sig string, _ uint64, _ string) (*domain.VerificationResult, error) {
	return v.GetTransferDetails(ctx, sig)
}

func watcherResult(receiver string, valid bool) *domain.VerificationResult {
	return &domain.VerificationResult{
		Sender:        "SenderPubkey",
		Receiver:      receiver,
		Amount:        500,
		Slot:          100,
		BlockTime:     1_700_000_000,
		Confirmations: 3,
		IsValid:       valid,
	}
}

func runWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// The stub source closes its channel once drained; give the watcher a
	// moment to finish the in-flight signature, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
}

func TestWatcherConfirmsValidTransfer(t *testing.T) {
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {watcherResult("Recv", true)},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 3, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 1 {
		t.Fatalf("expected 1 confirmation, got %d", target.confirmCalls)
	}
}

func TestWatcherDeduplicatesSignatures(t *testing.T) {
	source := &stubSignatureSource{signatures: []string{"sig-a", "sig-a", "sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {watcherResult("Recv", true)},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 1, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 1 {
		t.Fatalf("duplicate signatures must confirm once, got %d", target.confirmCalls)
	}
}

func TestWatcherSkipsProcessedSignature(t *testing.T) {
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {watcherResult("Recv", true)},
	}}
	target := &stubTarget{processed: true}
	w := NewWatcher(source, verifier, target, 1, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 0 {
		t.Fatal("already-processed signature must not be confirmed again")
	}
}

func TestWatcherSkipsTransfersToOtherAccounts(t *testing.T) {
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {watcherResult("SomeoneElse", true)},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 1, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 0 {
		t.Fatal("transfer paying another account must be ignored")
	}
}

func TestWatcherRetriesUntilTransactionVisible(t *testing.T) {
	notFound := &domain.VerificationResult{IsValid: false, Reason: "transaction not found"}
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {notFound, notFound, watcherResult("Recv", true)},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 5, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 1 {
		t.Fatalf("expected confirmation after retries, got %d", target.confirmCalls)
	}
	if got := verifier.calls["sig-a"]; got != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", got)
	}
}

func TestWatcherRetriesUntilConfirmed(t *testing.T) {
	unconfirmed := watcherResult("Recv", true)
	unconfirmed.Confirmations = 0
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {unconfirmed, watcherResult("Recv", true)},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 5, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 1 {
		t.Fatalf("expected confirmation once the transfer settled, got %d", target.confirmCalls)
	}
	if got := verifier.calls["sig-a"]; got != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", got)
	}
}

func TestWatcherDropsAfterExhaustedRetries(t *testing.T) {
	notFound := &domain.VerificationResult{IsValid: false, Reason: "transaction not found"}
	source := &stubSignatureSource{signatures: []string{"sig-a"}, receiver: "Recv"}
	verifier := &fetchSequenceVerifier{results: map[string][]*domain.VerificationResult{
		"sig-a": {notFound},
	}}
	target := &stubTarget{}
	w := NewWatcher(source, verifier, target, 2, time.Millisecond)

	runWatcher(t, w)

	if target.confirmCalls != 0 {
		t.Fatal("invisible transaction must be dropped, not confirmed")
	}
	if got := verifier.calls["sig-a"]; got != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", got)
	}
}

func TestWatcherSeenSetIsBounded(t *testing.T) {
	w := NewWatcher(&stubSignatureSource{receiver: "Recv"}, &fetchSequenceVerifier{}, &stubTarget{}, 1, time.Millisecond)
	for i := 0; i < maxSeenSignatures+10; i++ {
		w.markSeen("sig-" + strconv.Itoa(i))
	}
	if len(w.seen) > maxSeenSignatures {
		t.Fatalf("seen set exceeded its bound: %d", len(w.seen))
	}
}
