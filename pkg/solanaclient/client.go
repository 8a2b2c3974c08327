/**
 * @description
 * This package provides the source-chain (Solana) side of the oracle: fetching
 * a transaction by signature, extracting the SPL token transfer it carries,
 * and validating the transfer against a payment request's expectations.
 *
 * The raw RPC envelope is normalized into an internal `parsedTransaction`
 * exactly once, at the boundary; every rule above that point works on typed
 * fields rather than re-probing the heterogeneous RPC response shape.
 *
 * @dependencies
 * - github.com/gagliardetto/solana-go: Core Solana types and instruction layout.
 * - github.com/gagliardetto/solana-go/rpc: JSON-RPC client for getTransaction/getSlot.
 * - internal/domain: The VerificationResult DTO.
 */

package solanaclient

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/paybridge/oracle-service/internal/domain"
)

// SPL token program instruction discriminators. Transfer carries
// [source, destination, owner]; TransferChecked names the mint as well:
// [source, mint, destination, owner].
const (
	tokenInstructionTransfer        = 3
	tokenInstructionTransferChecked = 12
)

// txFetcher is the narrow RPC surface the verifier consumes. The production
// implementation wraps *rpc.Client; tests substitute synthetic transactions.
type txFetcher interface {
	fetchTransaction(ctx context.Context, sig solana.Signature) (*parsedTransaction, error)
	currentSlot(ctx context.Context) (uint64, error)
}

// parsedTransaction is the normalized view of a fetched transaction: the
// message, its inner instruction groups, and the metadata the verifier needs.
type parsedTransaction struct {
	slot      uint64
	blockTime int64
	failed    bool
	message   *solana.Message
	inner     [][]solana.CompiledInstruction
}

// Verifier answers whether a given source-chain transaction pays the
// configured receiver the exact expected amount of the designated token.
type Verifier struct {
	fetcher          txFetcher
	wsURL            string
	mint             solana.PublicKey
	receiver         solana.PublicKey // receiver token account
	minConfirmations uint64
}

// Config carries the verifier's connection and validation parameters.
type Config struct {
	RPCURL           string
	WSURL            string
	TokenMint        solana.PublicKey
	ReceiverAccount  solana.PublicKey
	MinConfirmations uint64
}

// New creates a Verifier backed by a live RPC client.
func New(cfg Config) *Verifier {
	return &Verifier{
		fetcher:          &rpcFetcher{client: rpc.New(cfg.RPCURL)},
		wsURL:            cfg.WSURL,
		mint:             cfg.TokenMint,
		receiver:         cfg.ReceiverAccount,
		minConfirmations: cfg.MinConfirmations,
	}
}

// ReceiverAccount returns the configured receiver token account in base58.
func (v *Verifier) ReceiverAccount() string {
	return v.receiver.String()
}

// GetTransferDetails fetches the transaction and extracts the token transfer
// it carries, preferring a transfer whose destination is the configured
// receiver. Confirmation depth is populated from the current slot. A missing
// transaction, a transaction with no token transfer, or an on-chain failure
// yields IsValid=false with a reason.
func (v *Verifier) GetTransferDetails(ctx context.Context, signature string) (*domain.VerificationResult, error) {
	res := &domain.VerificationResult{Signature: signature}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		res.Reason = "malformed transaction signature"
		return res, nil
	}

	tx, err := v.fetcher.fetchTransaction(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", signature, err)
	}
	if tx == nil {
		res.Reason = "transaction not found"
		return res, nil
	}

	res.Slot = tx.slot
	res.BlockTime = tx.blockTime

	currentSlot, err := v.fetcher.currentSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("query current slot: %w", err)
	}
	if currentSlot > tx.slot {
		res.Confirmations = currentSlot - tx.slot
	}

	if tx.failed {
		res.Reason = "transaction failed on-chain"
		return res, nil
	}

	transfer, ok := v.findTokenTransfer(tx)
	if !ok {
		res.Reason = "no token transfer instruction found"
		return res, nil
	}

	res.Sender = transfer.owner.String()
	res.Receiver = transfer.destination.String()
	res.Amount = transfer.amount
	res.IsValid = true
	return res, nil
}

// VerifyTransaction runs the full validation chain for the API verify path:
// confirmation depth, on-chain success, receiver, exact amount, and (when
// constrained) exact sender. The first failing check short-circuits with a
// specific reason. Amount comparison is exact-integer; a one-unit mismatch
// fails.
func (v *Verifier) VerifyTransaction(ctx context.Context, signature string, expectedAmount uint64, expectedSender string) (*domain.VerificationResult, error) {
	res, err := v.GetTransferDetails(ctx, signature)
	if err != nil {
		return nil, err
	}
	if !res.IsValid {
		return res, nil
	}

	res.IsValid = false
	switch {
	case res.Confirmations < v.minConfirmations:
		res.Reason = fmt.Sprintf("insufficient confirmations: %d of %d required", res.Confirmations, v.minConfirmations)
	case res.Receiver != v.receiver.String():
		res.Reason = fmt.Sprintf("receiver mismatch: transfer pays %s", res.Receiver)
	case res.Amount != expectedAmount:
		res.Reason = fmt.Sprintf("amount mismatch: expected %d, got %d", expectedAmount, res.Amount)
	case expectedSender != "" && res.Sender != expectedSender:
		res.Reason = fmt.Sprintf("sender mismatch: transfer authorized by %s", res.Sender)
	default:
		res.IsValid = true
		res.Reason = ""
	}
	return res, nil
}

// tokenTransfer is one decoded transfer instruction.
type tokenTransfer struct {
	owner       solana.PublicKey
	destination solana.PublicKey
	amount      uint64
}

// findTokenTransfer scans top-level and inner instructions for a token-program
// Transfer or TransferChecked. A transfer paying the configured receiver wins;
// failing that the first transfer found is returned so the caller can report a
// receiver mismatch instead of a generic miss.
func (v *Verifier) findTokenTransfer(tx *parsedTransaction) (tokenTransfer, bool) {
	var first *tokenTransfer

	consider := func(inst solana.CompiledInstruction) bool {
		t, ok := v.decodeTransfer(tx.message, inst)
		if !ok {
			return false
		}
		if t.destination.Equals(v.receiver) {
			first = &t
			return true
		}
		if first == nil {
			first = &t
		}
		return false
	}

	for _, inst := range tx.message.Instructions {
		if consider(inst) {
			return *first, true
		}
	}
	for _, group := range tx.inner {
		for _, inst := range group {
			if consider(inst) {
				return *first, true
			}
		}
	}

	if first != nil {
		return *first, true
	}
	return tokenTransfer{}, false
}

// decodeTransfer decodes one compiled instruction if it is a token transfer of
// the designated mint. TransferChecked names the mint explicitly; the plain
// Transfer form does not, so for it the mint constraint is enforced by the
// receiver token account comparison upstream.
func (v *Verifier) decodeTransfer(msg *solana.Message, inst solana.CompiledInstruction) (tokenTransfer, bool) {
	program, err := msg.Program(inst.ProgramIDIndex)
	if err != nil || !program.Equals(solana.TokenProgramID) {
		return tokenTransfer{}, false
	}
	if len(inst.Data) < 9 {
		return tokenTransfer{}, false
	}

	amount := binary.LittleEndian.Uint64(inst.Data[1:9])

	switch inst.Data[0] {
	case tokenInstructionTransfer:
		if len(inst.Accounts) < 3 {
			return tokenTransfer{}, false
		}
		dest, ok1 := resolveAccount(msg, inst.Accounts[1])
		owner, ok2 := resolveAccount(msg, inst.Accounts[2])
		if !ok1 || !ok2 {
			return tokenTransfer{}, false
		}
		return tokenTransfer{owner: owner, destination: dest, amount: amount}, true

	case tokenInstructionTransferChecked:
		if len(inst.Accounts) < 4 {
			return tokenTransfer{}, false
		}
		mint, okM := resolveAccount(msg, inst.Accounts[1])
		if !okM || !mint.Equals(v.mint) {
			return tokenTransfer{}, false
		}
		dest, ok1 := resolveAccount(msg, inst.Accounts[2])
		owner, ok2 := resolveAccount(msg, inst.Accounts[3])
		if !ok1 || !ok2 {
			return tokenTransfer{}, false
		}
		return tokenTransfer{owner: owner, destination: dest, amount: amount}, true
	}
	return tokenTransfer{}, false
}

func resolveAccount(msg *solana.Message, idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(msg.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return msg.AccountKeys[idx], true
}

// rpcFetcher adapts *rpc.Client to the txFetcher interface, translating the
// base64 transaction envelope into the normalized parsedTransaction.
type rpcFetcher struct {
	client *rpc.Client
}

func (f *rpcFetcher) fetchTransaction(ctx context.Context, sig solana.Signature) (*parsedTransaction, error) {
	maxVersion := uint64(0)
	out, err := f.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if err == rpc.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if out == nil || out.Transaction == nil {
		return nil, nil
	}

	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction envelope: %w", err)
	}

	parsed := &parsedTransaction{
		slot:    out.Slot,
		message: &decoded.Message,
	}
	if out.BlockTime != nil {
		parsed.blockTime = int64(*out.BlockTime)
	}
	if out.Meta != nil {
		parsed.failed = out.Meta.Err != nil
		for _, group := range out.Meta.InnerInstructions {
			parsed.inner = append(parsed.inner, group.Instructions)
		}
	}
	return parsed, nil
}

func (f *rpcFetcher) currentSlot(ctx context.Context) (uint64, error) {
	return f.client.GetSlot(ctx, rpc.CommitmentConfirmed)
}
