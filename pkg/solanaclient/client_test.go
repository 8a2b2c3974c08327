package solanaclient

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var (
	testMint     = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testReceiver = solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	testOwner    = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	testOther    = solana.MustPublicKeyFromBase58("GDfnEsia2WLAW5t8yx2X5j2mkfA74i5kwGdDuZHt7XmG")

	// Any well-formed base58 signature works; the fake fetcher ignores it.
	testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
)

type fakeFetcher struct {
	tx   *parsedTransaction
	slot uint64
}

func (f *fakeFetcher) fetchTransaction(context.Context, solana.Signature) (*parsedTransaction, error) {
	return f.tx, nil
}

func (f *fakeFetcher) currentSlot(context.Context) (uint64, error) {
	return f.slot, nil
}

func newTestVerifier(f txFetcher, minConfirmations uint64) *Verifier {
	return &Verifier{
		fetcher:          f,
		mint:             testMint,
		receiver:         testReceiver,
		minConfirmations: minConfirmations,
	}
}

// transferTx builds a parsed transaction holding a single token-program
// Transfer instruction: accounts [source, dest, owner].
func transferTx(dest, owner solana.PublicKey, amount uint64, slot uint64) *parsedTransaction {
	data := make([]byte, 9)
	data[0] = tokenInstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	source := solana.MustPublicKeyFromBase58("3yFwqXBfZY4jBVUafQ1YEXw189y2dN3V5KQq9uzBDy1E")
	msg := &solana.Message{
		AccountKeys: []solana.PublicKey{source, dest, owner, solana.TokenProgramID},
		Instructions: []solana.CompiledInstruction{{
			ProgramIDIndex: 3,
			Accounts:       []uint16{0, 1, 2},
			Data:           data,
		}},
	}
	return &parsedTransaction{slot: slot, blockTime: 1_700_000_000, message: msg}
}

// transferCheckedTx builds a TransferChecked instruction: accounts
// [source, mint, dest, owner].
func transferCheckedTx(mint, dest, owner solana.PublicKey, amount uint64, slot uint64) *parsedTransaction {
	data := make([]byte, 10)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:], amount)
	data[9] = 6 // decimals

	source := solana.MustPublicKeyFromBase58("3yFwqXBfZY4jBVUafQ1YEXw189y2dN3V5KQq9uzBDy1E")
	msg := &solana.Message{
		AccountKeys: []solana.PublicKey{source, mint, dest, owner, solana.TokenProgramID},
		Instructions: []solana.CompiledInstruction{{
			ProgramIDIndex: 4,
			Accounts:       []uint16{0, 1, 2, 3},
			Data:           data,
		}},
	}
	return &parsedTransaction{slot: slot, blockTime: 1_700_000_000, message: msg}
}

func TestVerifyTransactionValidTransfer(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferTx(testReceiver, testOwner, 1_000_000, 100), slot: 110}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("expected valid result, got reason %q", res.Reason)
	}
	if res.Sender != testOwner.String() {
		t.Fatalf("unexpected sender %s", res.Sender)
	}
	if res.Amount != 1_000_000 {
		t.Fatalf("unexpected amount %d", res.Amount)
	}
	if res.Confirmations != 10 {
		t.Fatalf("expected 10 confirmations, got %d", res.Confirmations)
	}
}

func TestVerifyTransactionTransferChecked(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferCheckedTx(testMint, testReceiver, testOwner, 777, 50), slot: 55}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 777, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("expected valid result, got reason %q", res.Reason)
	}
}

func TestVerifyTransactionWrongMintIgnored(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferCheckedTx(testOther, testReceiver, testOwner, 777, 50), slot: 55}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 777, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("transfer of a different mint must not validate")
	}
	if res.Reason != "no token transfer instruction found" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestVerifyTransactionAmountMismatch(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferTx(testReceiver, testOwner, 999_999, 100), slot: 110}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("one-unit short transfer must not validate")
	}
	if !strings.Contains(res.Reason, "amount mismatch") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestVerifyTransactionReceiverMismatch(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferTx(testOther, testOwner, 1_000_000, 100), slot: 110}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("transfer to another account must not validate")
	}
	if !strings.Contains(res.Reason, "receiver mismatch") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestVerifyTransactionSenderMismatch(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferTx(testReceiver, testOwner, 1_000_000, 100), slot: 110}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, testOther.String())
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("transfer by another sender must not validate when constrained")
	}
	if !strings.Contains(res.Reason, "sender mismatch") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestVerifyTransactionInsufficientConfirmations(t *testing.T) {
	fetcher := &fakeFetcher{tx: transferTx(testReceiver, testOwner, 1_000_000, 100), slot: 101}
	v := newTestVerifier(fetcher, 5)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("shallow transaction must not validate")
	}
	if !strings.Contains(res.Reason, "insufficient confirmations") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestVerifyTransactionFailedOnChain(t *testing.T) {
	tx := transferTx(testReceiver, testOwner, 1_000_000, 100)
	tx.failed = true
	fetcher := &fakeFetcher{tx: tx, slot: 110}
	v := newTestVerifier(fetcher, 1)

	res, err := v.VerifyTransaction(context.Background(), testSignature, 1_000_000, "")
	if err != nil {
		t.Fatalf("VerifyTransaction returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("failed transaction must not validate")
	}
	if res.Reason != "transaction failed on-chain" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestGetTransferDetailsNotFound(t *testing.T) {
	v := newTestVerifier(&fakeFetcher{tx: nil, slot: 10}, 1)

	res, err := v.GetTransferDetails(context.Background(), testSignature)
	if err != nil {
		t.Fatalf("GetTransferDetails returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("missing transaction must not validate")
	}
	if res.Reason != "transaction not found" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestGetTransferDetailsMalformedSignature(t *testing.T) {
	v := newTestVerifier(&fakeFetcher{}, 1)

	res, err := v.GetTransferDetails(context.Background(), "not base58 at all!!")
	if err != nil {
		t.Fatalf("GetTransferDetails returned error: %v", err)
	}
	if res.IsValid {
		t.Fatal("malformed signature must not validate")
	}
	if res.Reason != "malformed transaction signature" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestFindTokenTransferPrefersReceiver(t *testing.T) {
	// Two transfers in one transaction: one to a stranger, one to the
	// configured receiver. The receiver's transfer must win.
	strangerData := make([]byte, 9)
	strangerData[0] = tokenInstructionTransfer
	binary.LittleEndian.PutUint64(strangerData[1:], 111)

	receiverData := make([]byte, 9)
	receiverData[0] = tokenInstructionTransfer
	binary.LittleEndian.PutUint64(receiverData[1:], 222)

	source := solana.MustPublicKeyFromBase58("3yFwqXBfZY4jBVUafQ1YEXw189y2dN3V5KQq9uzBDy1E")
	msg := &solana.Message{
		AccountKeys: []solana.PublicKey{source, testOther, testReceiver, testOwner, solana.TokenProgramID},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 3}, Data: strangerData},
			{ProgramIDIndex: 4, Accounts: []uint16{0, 2, 3}, Data: receiverData},
		},
	}
	tx := &parsedTransaction{slot: 10, blockTime: 1_700_000_000, message: msg}
	v := newTestVerifier(&fakeFetcher{tx: tx, slot: 20}, 1)

	transfer, ok := v.findTokenTransfer(tx)
	if !ok {
		t.Fatal("expected a transfer")
	}
	if !transfer.destination.Equals(testReceiver) || transfer.amount != 222 {
		t.Fatalf("expected the receiver's transfer, got dest=%s amount=%d", transfer.destination, transfer.amount)
	}
}

func TestFindTokenTransferScansInnerInstructions(t *testing.T) {
	data := make([]byte, 9)
	data[0] = tokenInstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], 333)

	source := solana.MustPublicKeyFromBase58("3yFwqXBfZY4jBVUafQ1YEXw189y2dN3V5KQq9uzBDy1E")
	msg := &solana.Message{
		AccountKeys:  []solana.PublicKey{source, testReceiver, testOwner, solana.TokenProgramID},
		Instructions: nil,
	}
	tx := &parsedTransaction{
		slot:    10,
		message: msg,
		inner: [][]solana.CompiledInstruction{{
			{ProgramIDIndex: 3, Accounts: []uint16{0, 1, 2}, Data: data},
		}},
	}
	v := newTestVerifier(&fakeFetcher{tx: tx, slot: 20}, 1)

	transfer, ok := v.findTokenTransfer(tx)
	if !ok {
		t.Fatal("expected a transfer from inner instructions")
	}
	if transfer.amount != 333 {
		t.Fatalf("unexpected amount %d", transfer.amount)
	}
}
