package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Failure reasons reported by VerifyTransfer. The values line up with the x402
// reason codes so they can be passed to clients unchanged.
const (
	ReasonInvalidPayload    = "invalid_payload"
	ReasonNotFound          = "transaction_not_found"
	ReasonFailed            = "transaction_failed"
	ReasonSignerMismatch    = "signer_mismatch"
	ReasonRecipientMismatch = "recipient_mismatch"
	ReasonInsufficient      = "insufficient_amount"
	ReasonExpired           = "payment_expired"
	ReasonRPC               = "verification_error"
)

// VerifyError describes why a transfer did not satisfy an expectation.
type VerifyError struct {
	Reason string
	Err    error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func verifyErr(reason string, format string, args ...interface{}) *VerifyError {
	return &VerifyError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// TransactionFetcher loads a parsed transaction by signature.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, signature, commitment string) (gjson.Result, error)
}

// Expectation is what a payment transaction has to contain.
type Expectation struct {
	Signature string
	Signer    string
	Recipient string

	// Mint selects an SPL token; empty means native SOL.
	Mint string

	Amount    uint64
	Tolerance uint64

	// NotBefore rejects transactions whose block time is older. Zero disables the check.
	NotBefore time.Time
}

// Transfer is the verified view of a payment transaction.
type Transfer struct {
	Signature string    `json:"signature"`
	Signer    string    `json:"signer"`
	Recipient string    `json:"recipient"`
	Mint      string    `json:"mint,omitempty"`
	Amount    uint64    `json:"amount"`
	Slot      uint64    `json:"slot"`
	Fee       uint64    `json:"fee"`
	BlockTime time.Time `json:"blockTime,omitempty"`
}

// Verifier checks payment transactions against expectations with one
// getTransaction call.
type Verifier struct {
	rpc        TransactionFetcher
	commitment string
}

// NewVerifier creates a verifier. An empty commitment means "confirmed".
func NewVerifier(rpc TransactionFetcher, commitment string) *Verifier {
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return &Verifier{rpc: rpc, commitment: commitment}
}

// VerifyTransfer loads the transaction named by exp.Signature and checks that
// exp.Signer signed it and that exp.Recipient received at least
// exp.Amount - exp.Tolerance.
func (v *Verifier) VerifyTransfer(ctx context.Context, exp Expectation) (*Transfer, error) {
	if err := ValidateSignature(exp.Signature); err != nil {
		return nil, &VerifyError{Reason: ReasonInvalidPayload, Err: err}
	}
	if err := ValidatePublicKey(exp.Signer); err != nil {
		return nil, &VerifyError{Reason: ReasonInvalidPayload, Err: err}
	}
	if err := ValidatePublicKey(exp.Recipient); err != nil {
		return nil, &VerifyError{Reason: ReasonInvalidPayload, Err: fmt.Errorf("recipient: %w", err)}
	}

	tx, err := v.rpc.GetTransaction(ctx, exp.Signature, v.commitment)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, &VerifyError{Reason: ReasonNotFound, Err: err}
		}
		return nil, &VerifyError{Reason: ReasonRPC, Err: err}
	}

	if txErr := tx.Get("meta.err"); txErr.Exists() && txErr.Type != gjson.Null {
		return nil, verifyErr(ReasonFailed, "transaction failed on chain: %s", txErr.Raw)
	}

	keys := accountKeys(tx)
	signerIdx := keys.index(exp.Signer)
	if signerIdx < 0 || !keys[signerIdx].signer {
		return nil, verifyErr(ReasonSignerMismatch, "%s did not sign the transaction", exp.Signer)
	}

	transfer := &Transfer{
		Signature: exp.Signature,
		Signer:    exp.Signer,
		Recipient: exp.Recipient,
		Mint:      exp.Mint,
		Slot:      tx.Get("slot").Uint(),
		Fee:       tx.Get("meta.fee").Uint(),
	}
	if bt := tx.Get("blockTime"); bt.Exists() && bt.Type != gjson.Null {
		transfer.BlockTime = time.Unix(bt.Int(), 0).UTC()
		if !exp.NotBefore.IsZero() && transfer.BlockTime.Before(exp.NotBefore) {
			return nil, verifyErr(ReasonExpired, "transaction at %s is older than %s",
				transfer.BlockTime.Format(time.RFC3339), exp.NotBefore.UTC().Format(time.RFC3339))
		}
	}

	var received uint64
	if exp.Mint == "" {
		received, err = nativeReceived(tx, keys, exp.Signer, exp.Recipient)
	} else {
		received, err = tokenReceived(tx, exp.Recipient, exp.Mint)
	}
	if err != nil {
		return nil, err
	}
	transfer.Amount = received

	if SaturatingAdd(received, exp.Tolerance) < exp.Amount {
		return transfer, verifyErr(ReasonInsufficient, "received %d, expected %d (tolerance %d)",
			received, exp.Amount, exp.Tolerance)
	}

	return transfer, nil
}

type accountKey struct {
	pubkey string
	signer bool
}

type accountKeyList []accountKey

func (l accountKeyList) index(pubkey string) int {
	for i, k := range l {
		if k.pubkey == pubkey {
			return i
		}
	}
	return -1
}

// accountKeys handles both jsonParsed ({pubkey, signer}) and plain string keys.
func accountKeys(tx gjson.Result) accountKeyList {
	raw := tx.Get("transaction.message.accountKeys").Array()
	required := int(tx.Get("transaction.message.header.numRequiredSignatures").Int())

	keys := make(accountKeyList, 0, len(raw))
	for i, k := range raw {
		if k.IsObject() {
			keys = append(keys, accountKey{
				pubkey: k.Get("pubkey").String(),
				signer: k.Get("signer").Bool(),
			})
			continue
		}
		keys = append(keys, accountKey{pubkey: k.String(), signer: i < required})
	}
	return keys
}

func nativeReceived(tx gjson.Result, keys accountKeyList, signer, recipient string) (uint64, error) {
	var total uint64
	matched := false

	visit := func(ix gjson.Result) {
		if ix.Get("program").String() != "system" && ix.Get("programId").String() != SystemProgramID {
			return
		}
		switch ix.Get("parsed.type").String() {
		case "transfer", "transferWithSeed":
		default:
			return
		}
		info := ix.Get("parsed.info")
		if info.Get("destination").String() != recipient || info.Get("source").String() != signer {
			return
		}
		matched = true
		total = SaturatingAdd(total, info.Get("lamports").Uint())
	}

	for _, ix := range tx.Get("transaction.message.instructions").Array() {
		visit(ix)
	}
	for _, inner := range tx.Get("meta.innerInstructions").Array() {
		for _, ix := range inner.Get("instructions").Array() {
			visit(ix)
		}
	}

	if matched {
		return total, nil
	}

	idx := keys.index(recipient)
	if idx < 0 {
		return 0, verifyErr(ReasonRecipientMismatch, "recipient %s is not part of the transaction", recipient)
	}
	pre := tx.Get("meta.preBalances." + strconv.Itoa(idx))
	post := tx.Get("meta.postBalances." + strconv.Itoa(idx))
	if !pre.Exists() || !post.Exists() || post.Uint() <= pre.Uint() {
		return 0, verifyErr(ReasonRecipientMismatch, "no transfer to %s found", recipient)
	}
	return post.Uint() - pre.Uint(), nil
}

func tokenReceived(tx gjson.Result, owner, mint string) (uint64, error) {
	pre := make(map[int64]uint64)
	for _, b := range tx.Get("meta.preTokenBalances").Array() {
		if b.Get("owner").String() == owner && b.Get("mint").String() == mint {
			pre[b.Get("accountIndex").Int()] = b.Get("uiTokenAmount.amount").Uint()
		}
	}

	var total uint64
	seen := false
	for _, b := range tx.Get("meta.postTokenBalances").Array() {
		if b.Get("owner").String() != owner || b.Get("mint").String() != mint {
			continue
		}
		seen = true
		post := b.Get("uiTokenAmount.amount").Uint()
		if before := pre[b.Get("accountIndex").Int()]; post > before {
			total = SaturatingAdd(total, post-before)
		}
	}

	if !seen || total == 0 {
		return 0, verifyErr(ReasonRecipientMismatch, "no %s transfer to %s found", mint, owner)
	}
	return total, nil
}
