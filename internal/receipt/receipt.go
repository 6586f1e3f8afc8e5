// Package receipt produces and verifies tamper-evident execution receipts.
//
// Each receipt canonicalizes a fixed projection of the execution, hashes
// it, and links to the previous receipt of the same agent through the
// chain message "{version}|{payloadHash}|{prevReceiptHash or GENESIS}".
// The receipt hash is the SHA-256 of that message, and the signature
// envelope carries the message and its hash under a fixed scheme constant.
// Verification recomputes everything from the execution and exposes the
// expected values so a caller can localize a tamper.
package receipt

import (
	"time"

	"colosseum/pkg/canonical"
	"colosseum/pkg/types"
)

const (
	// Version is the receipt format version embedded in every receipt.
	Version = "v1"
	// Scheme identifies the signature envelope format.
	Scheme = "colosseum-receipt-signature-v1"
	// genesisRef stands in for the previous hash at the head of a chain.
	genesisRef = "GENESIS"
)

// Engine builds and verifies receipts. The signer is optional; without it
// receipts carry the hash-chain envelope only.
type Engine struct {
	signer *Signer
}

// NewEngine creates a receipt engine. signer may be nil.
func NewEngine(signer *Signer) *Engine {
	return &Engine{signer: signer}
}

// payloadOf projects the execution onto the canonical receipt payload.
// Monetary fields are rounded to 8 fractional digits; absent optionals
// (failureReason, txSignature) are omitted rather than emitted as empty.
func payloadOf(exec *types.ExecutionRecord) map[string]any {
	p := map[string]any{
		"executionId":      exec.ID,
		"intentId":         exec.IntentID,
		"agentId":          exec.AgentID,
		"symbol":           exec.Symbol,
		"side":             string(exec.Side),
		"quantity":         types.Round8(exec.Quantity),
		"priceUsd":         types.Round8(exec.PriceUsd),
		"grossNotionalUsd": types.Round8(exec.GrossNotionalUsd),
		"feeUsd":           types.Round8(exec.FeeUsd),
		"netUsd":           types.Round8(exec.NetUsd),
		"realizedPnlUsd":   types.Round8(exec.RealizedPnlUsd),
		"pnlSnapshotUsd":   types.Round8(exec.PnlSnapshotUsd),
		"mode":             string(exec.Mode),
		"status":           string(exec.Status),
		"timestamp":        exec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if exec.FailureReason != "" {
		p["failureReason"] = exec.FailureReason
	}
	if exec.TxSignature != "" {
		p["txSignature"] = exec.TxSignature
	}
	return p
}

func chainMessage(payloadHash, prevReceiptHash string) string {
	ref := prevReceiptHash
	if ref == "" {
		ref = genesisRef
	}
	return Version + "|" + payloadHash + "|" + ref
}

// CreateReceipt builds the receipt for an execution, chaining it to
// prevReceiptHash (empty for the agent's first receipt).
func (e *Engine) CreateReceipt(exec *types.ExecutionRecord, prevReceiptHash string) (*types.Receipt, error) {
	payload := payloadOf(exec)
	payloadHash, err := canonical.Hash(payload)
	if err != nil {
		return nil, err
	}

	message := chainMessage(payloadHash, prevReceiptHash)
	receiptHash := canonical.HashString(message)

	sig := types.SignaturePayload{
		Scheme:      Scheme,
		Message:     message,
		MessageHash: receiptHash,
	}
	if e.signer != nil {
		signature, err := e.signer.Sign(receiptHash)
		if err != nil {
			return nil, err
		}
		sig.Signature = signature
		sig.Signer = e.signer.Address()
	}

	return &types.Receipt{
		Version:          Version,
		ExecutionID:      exec.ID,
		Payload:          payload,
		PayloadHash:      payloadHash,
		PrevReceiptHash:  prevReceiptHash,
		ReceiptHash:      receiptHash,
		SignaturePayload: sig,
		CreatedAt:        exec.CreatedAt,
	}, nil
}

// Verification is the result of VerifyReceipt. OK is true iff every stored
// hash matches its recomputation; on mismatch the expected values point at
// the tampered field.
type Verification struct {
	OK                           bool
	ExpectedPayloadHash          string
	ExpectedReceiptHash          string
	ExpectedSignaturePayloadHash string
}

// envelopeHash digests the scheme/message/messageHash triple so that any
// single-byte mutation of the envelope is detectable.
func envelopeHash(sig types.SignaturePayload) (string, error) {
	return canonical.Hash(map[string]any{
		"scheme":      sig.Scheme,
		"message":     sig.Message,
		"messageHash": sig.MessageHash,
	})
}

// VerifyReceipt recomputes the payload hash, chain message, receipt hash,
// and signature envelope from the execution and the receipt's stored
// prevReceiptHash. Verification failures are diagnostics, not errors.
func (e *Engine) VerifyReceipt(exec *types.ExecutionRecord, r *types.Receipt) (Verification, error) {
	expectedPayloadHash, err := canonical.Hash(payloadOf(exec))
	if err != nil {
		return Verification{}, err
	}
	storedPayloadHash, err := canonical.Hash(r.Payload)
	if err != nil {
		return Verification{}, err
	}

	expectedMessage := chainMessage(expectedPayloadHash, r.PrevReceiptHash)
	expectedReceiptHash := canonical.HashString(expectedMessage)

	expectedEnvelope, err := envelopeHash(types.SignaturePayload{
		Scheme:      Scheme,
		Message:     expectedMessage,
		MessageHash: expectedReceiptHash,
	})
	if err != nil {
		return Verification{}, err
	}
	storedEnvelope, err := envelopeHash(r.SignaturePayload)
	if err != nil {
		return Verification{}, err
	}

	ok := expectedPayloadHash == r.PayloadHash &&
		expectedPayloadHash == storedPayloadHash &&
		expectedReceiptHash == r.ReceiptHash &&
		r.SignaturePayload.Message == expectedMessage &&
		r.SignaturePayload.MessageHash == r.ReceiptHash &&
		expectedEnvelope == storedEnvelope

	return Verification{
		OK:                           ok,
		ExpectedPayloadHash:          expectedPayloadHash,
		ExpectedReceiptHash:          expectedReceiptHash,
		ExpectedSignaturePayloadHash: expectedEnvelope,
	}, nil
}
