/**
 * @description
 * This package provides the target-chain (Substrate) client: the idempotency
 * query against the oracle's contract and the two signed confirmation calls.
 * All chain access goes through the shared ConnManager.
 *
 * Contract messages are invoked the ink! way: a 4-byte selector followed by
 * SCALE-encoded arguments. Reads use a `state_call` dry-run (ContractsApi_call)
 * so they cost nothing; writes are `Contracts.call` extrinsics watched to
 * block inclusion, with module-level dispatch errors decoded from runtime
 * metadata into readable "Section.ErrorName: docs" strings.
 *
 * @dependencies
 * - github.com/centrifuge/go-substrate-rpc-client/v4: Substrate RPC, SCALE codec,
 *   extrinsic construction and signing.
 * - github.com/vedhavyas/go-subkey/v2: SS58 address decoding.
 * - golang.org/x/crypto/blake2b: Extrinsic hashing.
 */

package substrateclient

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vedhavyas/go-subkey/v2"
	"golang.org/x/crypto/blake2b"
)

// Selectors holds the 4-byte ink! message selectors of the oracle contract.
type Selectors struct {
	IsProcessed    [4]byte
	ConfirmPayment [4]byte
	CreditUnits    [4]byte
}

// ParseSelector decodes a hex-encoded 4-byte ink! message selector.
func ParseSelector(s string) ([4]byte, error) {
	var sel [4]byte
	b, err := codec.HexDecodeString(s)
	if err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(b) != 4 {
		return sel, fmt.Errorf("invalid selector %q: want 4 bytes, got %d", s, len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

// Config carries everything needed to talk to the oracle contract.
type Config struct {
	Signer          signature.KeyringPair
	ContractAddress string // SS58
	Selectors       Selectors
	GasRefTime      uint64
	GasProofSize    uint64
}

// Client submits confirmation calls to the oracle contract and answers the
// idempotency query. Safe for concurrent use; the underlying connection is
// shared through the ConnManager.
type Client struct {
	conn      *ConnManager
	signer    signature.KeyringPair
	contract  []byte // 32-byte AccountID
	selectors Selectors
	gas       weightV2
}

// CallOutcome is the result of a successful confirmation submission.
type CallOutcome struct {
	TxHash      string
	BlockNumber uint64
}

// NewClient builds a Client over an existing connection manager.
func NewClient(conn *ConnManager, cfg Config) (*Client, error) {
	_, contractPub, err := subkey.SS58Decode(cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("decode contract address %q: %w", cfg.ContractAddress, err)
	}
	return &Client{
		conn:      conn,
		signer:    cfg.Signer,
		contract:  contractPub,
		selectors: cfg.Selectors,
		gas: weightV2{
			RefTime:   types.NewUCompactFromUInt(cfg.GasRefTime),
			ProofSize: types.NewUCompactFromUInt(cfg.GasProofSize),
		},
	}, nil
}

// weightV2 mirrors the runtime's two-dimensional weight.
type weightV2 struct {
	RefTime   types.UCompact
	ProofSize types.UCompact
}

// optionNone SCALE-encodes as Option::None regardless of the payload type.
type optionNone struct{}

func (optionNone) Encode(encoder scale.Encoder) error { return encoder.PushByte(0) }

// IsTransactionProcessed asks the contract whether this exact source-chain
// signature has already been consumed. This is the authoritative idempotency
// gate: callers must trust it over any local state, because the local store
// may be stale, restarted, or raced.
func (c *Client) IsTransactionProcessed(ctx context.Context, txSignature string) (bool, error) {
	conn, err := c.conn.Acquire(ctx)
	if err != nil {
		return false, err
	}

	input, err := encodeCallInput(c.selectors.IsProcessed, txSignature)
	if err != nil {
		return false, err
	}
	args, err := c.encodeContractCallRequest(input)
	if err != nil {
		return false, err
	}

	var raw string
	if err := conn.api.Client.Call(&raw, "state_call", "ContractsApi_call", codec.HexEncodeToString(args)); err != nil {
		c.conn.Invalidate(conn)
		return false, &ConnectivityError{Op: "isTransactionProcessed", Err: err}
	}

	return decodeBoolQueryResult(raw)
}

// ConfirmPayment submits the signature-keyed confirmation call.
// blockTime is unix seconds; the contract expects seconds, never milliseconds.
func (c *Client) ConfirmPayment(ctx context.Context, txSignature, sender string, amount uint64, blockTime int64, blockNumber uint64) (*CallOutcome, error) {
	input, err := encodeCallInput(c.selectors.ConfirmPayment,
		txSignature, sender, types.NewU128(*bigFromUint64(amount)), uint64(blockTime), blockNumber)
	if err != nil {
		return nil, err
	}
	return c.submitContractCall(ctx, "confirmPayment", input)
}

// CreditUnits submits the account-keyed crediting call used by the
// purchase-credit kind. targetAccount is the SS58 beneficiary on the target
// chain; the signature is passed along so the contract can record it as
// consumed.
func (c *Client) CreditUnits(ctx context.Context, targetAccount string, amount uint64, txSignature string) (*CallOutcome, error) {
	_, targetPub, err := subkey.SS58Decode(targetAccount)
	if err != nil {
		return nil, &DispatchError{Message: fmt.Sprintf("invalid target account %q", targetAccount)}
	}
	var target [32]byte
	copy(target[:], targetPub)

	input, err := encodeCallInput(c.selectors.CreditUnits,
		target, types.NewU128(*bigFromUint64(amount)), txSignature)
	if err != nil {
		return nil, err
	}
	return c.submitContractCall(ctx, "creditUnits", input)
}

// submitContractCall signs a Contracts.call extrinsic carrying input, submits
// it, waits for block inclusion, and inspects the block's events for a
// dispatch failure attributable to this extrinsic.
func (c *Client) submitContractCall(ctx context.Context, op string, input []byte) (*CallOutcome, error) {
	conn, err := c.conn.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	fail := func(stage string, err error) (*CallOutcome, error) {
		c.conn.Invalidate(conn)
		return nil, &ConnectivityError{Op: op + "/" + stage, Err: err}
	}

	dest, err := types.NewMultiAddressFromAccountID(c.contract)
	if err != nil {
		return nil, fmt.Errorf("contract account: %w", err)
	}
	call, err := types.NewCall(conn.meta, "Contracts.call",
		dest,
		types.NewUCompactFromUInt(0), // value
		c.gas,
		optionNone{}, // storage deposit limit
		types.Bytes(input),
	)
	if err != nil {
		return nil, fmt.Errorf("build Contracts.call: %w", err)
	}

	genesisHash, err := conn.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return fail("genesis", err)
	}
	rv, err := conn.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return fail("runtimeVersion", err)
	}
	accountKey, err := types.CreateStorageKey(conn.meta, "System", "Account", c.signer.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("account storage key: %w", err)
	}
	var accountInfo types.AccountInfo
	if _, err := conn.api.RPC.State.GetStorageLatest(accountKey, &accountInfo); err != nil {
		return fail("nonce", err)
	}

	ext := types.NewExtrinsic(call)
	err = ext.Sign(c.signer, types.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("sign extrinsic: %w", err)
	}

	encodedExt, err := codec.Encode(ext)
	if err != nil {
		return nil, fmt.Errorf("encode extrinsic: %w", err)
	}
	extHash := blake2b.Sum256(encodedExt)

	sub, err := conn.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return fail("submit", err)
	}
	defer sub.Unsubscribe()

	// Once submitted there is no cooperative cancellation: we wait for
	// inclusion or the subscription's own failure.
	var blockHash types.Hash
wait:
	for {
		select {
		case status := <-sub.Chan():
			switch {
			case status.IsInBlock:
				blockHash = status.AsInBlock
				break wait
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return nil, &DispatchError{Message: fmt.Sprintf("extrinsic not included (status %v)", status)}
			}
		case err := <-sub.Err():
			return fail("watch", err)
		case <-ctx.Done():
			return fail("watch", ctx.Err())
		}
	}

	outcome := &CallOutcome{TxHash: codec.HexEncodeToString(extHash[:])}

	block, err := conn.api.RPC.Chain.GetBlock(blockHash)
	if err != nil {
		return fail("block", err)
	}
	outcome.BlockNumber = uint64(block.Block.Header.Number)

	extIndex := -1
	for i := range block.Block.Extrinsics {
		enc, encErr := codec.Encode(block.Block.Extrinsics[i])
		if encErr == nil && bytes.Equal(enc, encodedExt) {
			extIndex = i
			break
		}
	}

	if dispatchErr := c.findDispatchFailure(conn, blockHash, extIndex); dispatchErr != nil {
		return nil, dispatchErr
	}
	return outcome, nil
}

// findDispatchFailure scans System.Events at blockHash for an ExtrinsicFailed
// matching extIndex. extIndex < 0 means ours could not be located in the
// block; in that case any failure event is attributed to us, erring on the
// side of reporting a rejection rather than claiming success.
func (c *Client) findDispatchFailure(conn *chainConn, blockHash types.Hash, extIndex int) error {
	key, err := types.CreateStorageKey(conn.meta, "System", "Events")
	if err != nil {
		return nil
	}
	raw, err := conn.api.RPC.State.GetStorageRaw(key, blockHash)
	if err != nil || raw == nil {
		return nil
	}
	events := types.EventRecords{}
	if err := types.EventRecordsRaw(*raw).DecodeEventRecords(conn.meta, &events); err != nil {
		// Chains with custom events can defeat the static decoder; the
		// extrinsic was included, so treat it as success.
		return nil
	}
	for _, failed := range events.System_ExtrinsicFailed {
		if !failed.Phase.IsApplyExtrinsic {
			continue
		}
		if extIndex >= 0 && failed.Phase.AsApplyExtrinsic != uint32(extIndex) {
			continue
		}
		return &DispatchError{Message: describeDispatchError(conn.meta, failed.DispatchError)}
	}
	return nil
}

// describeDispatchError renders a dispatch error using runtime metadata:
// module errors become "Section.ErrorName: docs", everything else a stable
// fixed string.
func describeDispatchError(meta *types.Metadata, derr types.DispatchError) string {
	switch {
	case derr.IsModule:
		return describeModuleError(meta, derr.ModuleError)
	case derr.IsBadOrigin:
		return "BadOrigin"
	case derr.IsCannotLookup:
		return "CannotLookup"
	default:
		return "dispatch error"
	}
}

func describeModuleError(meta *types.Metadata, merr types.ModuleError) string {
	fallback := fmt.Sprintf("module[%d].error[%d]", merr.Index, merr.Error[0])
	if meta.Version != 14 {
		return fallback
	}
	v14 := meta.AsMetadataV14
	for _, pallet := range v14.Pallets {
		if uint8(pallet.Index) != uint8(merr.Index) {
			continue
		}
		section := string(pallet.Name)
		if !pallet.HasErrors {
			return fmt.Sprintf("%s.error[%d]", section, merr.Error[0])
		}
		typ, ok := v14.EfficientLookup[pallet.Errors.Type.Int64()]
		if !ok || !typ.Def.IsVariant {
			return fmt.Sprintf("%s.error[%d]", section, merr.Error[0])
		}
		for _, variant := range typ.Def.Variant.Variants {
			if uint8(variant.Index) != uint8(merr.Error[0]) {
				continue
			}
			docs := make([]string, 0, len(variant.Docs))
			for _, d := range variant.Docs {
				if s := strings.TrimSpace(string(d)); s != "" {
					docs = append(docs, s)
				}
			}
			if len(docs) == 0 {
				return fmt.Sprintf("%s.%s", section, variant.Name)
			}
			return fmt.Sprintf("%s.%s: %s", section, variant.Name, strings.Join(docs, " "))
		}
		return fmt.Sprintf("%s.error[%d]", section, merr.Error[0])
	}
	return fallback
}

// encodeCallInput builds selector ++ SCALE(args...).
func encodeCallInput(selector [4]byte, args ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(selector[:])
	enc := scale.NewEncoder(&buf)
	for _, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return nil, fmt.Errorf("encode call argument %T: %w", arg, err)
		}
	}
	return buf.Bytes(), nil
}

// encodeContractCallRequest builds the SCALE payload of ContractsApi_call:
// (origin, dest, value, gas_limit: None, storage_deposit_limit: None, input).
// gas_limit None lets the node estimate during the dry-run.
func (c *Client) encodeContractCallRequest(input []byte) ([]byte, error) {
	var origin, dest [32]byte
	copy(origin[:], c.signer.PublicKey)
	copy(dest[:], c.contract)

	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)
	for _, v := range []interface{}{
		origin,
		dest,
		types.NewU128(*bigFromUint64(0)),
		optionNone{}, // gas_limit
		optionNone{}, // storage_deposit_limit
		types.Bytes(input),
	} {
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("encode contract call request: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// decodeBoolQueryResult unwraps a ContractExecResult whose message returns
// bool. Layout: gas_consumed, gas_required (two-dimensional weights),
// storage_deposit, debug_message, then Result<ExecReturnValue, _>.
func decodeBoolQueryResult(raw string) (bool, error) {
	data, err := codec.HexDecodeString(raw)
	if err != nil {
		return false, fmt.Errorf("decode contract query response: %w", err)
	}
	dec := scale.NewDecoder(bytes.NewReader(data))

	var gasConsumed, gasRequired weightV2
	if err := dec.Decode(&gasConsumed); err != nil {
		return false, fmt.Errorf("decode contract query gas: %w", err)
	}
	if err := dec.Decode(&gasRequired); err != nil {
		return false, fmt.Errorf("decode contract query gas: %w", err)
	}

	depositKind, err := dec.ReadOneByte()
	if err != nil {
		return false, fmt.Errorf("decode contract query deposit: %w", err)
	}
	_ = depositKind
	var deposit types.U128
	if err := dec.Decode(&deposit); err != nil {
		return false, fmt.Errorf("decode contract query deposit: %w", err)
	}

	var debugMessage types.Bytes
	if err := dec.Decode(&debugMessage); err != nil {
		return false, fmt.Errorf("decode contract query debug output: %w", err)
	}

	resultKind, err := dec.ReadOneByte()
	if err != nil {
		return false, fmt.Errorf("decode contract query result: %w", err)
	}
	if resultKind != 0 {
		return false, &DispatchError{Message: "contract query rejected by runtime"}
	}

	var flags types.U32
	if err := dec.Decode(&flags); err != nil {
		return false, fmt.Errorf("decode contract query flags: %w", err)
	}
	var output types.Bytes
	if err := dec.Decode(&output); err != nil {
		return false, fmt.Errorf("decode contract query output: %w", err)
	}

	// ink! >= 4 wraps message output in Result<T, LangError>: 0x00 ++ bool.
	// Older contracts return the bare bool.
	switch {
	case len(output) == 1:
		return output[0] == 1, nil
	case len(output) == 2 && output[0] == 0:
		return output[1] == 1, nil
	}
	return false, fmt.Errorf("unexpected contract query output (%d bytes)", len(output))
}

func bigFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
