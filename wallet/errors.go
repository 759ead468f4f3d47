package wallet

import (
	"errors"
	"fmt"

	"github.com/ecashdev/walnut/cashu"
)

// wallet side errors
var (
	ErrMintNotExist                  = errors.New("mint does not exist")
	ErrInsufficientMintBalance       = errors.New("not enough funds in selected mint")
	ErrInsufficientFunds             = errors.New("insufficient funds for transaction")
	ErrUnit                          = errors.New("proofs with different units")
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrDistributionMismatch          = errors.New("sum of preferred distribution does not match amount")
	ErrNoActiveKeyset                = errors.New("no active keyset for unit")
	ErrQuoteNotFound                 = errors.New("quote not found")
	ErrSpendingConditionNotSupported = errors.New("spending condition not supported for this operation")
	ErrMixedSpendingConditions       = errors.New("proofs with mixed spending conditions")
	ErrLockingConditionMismatch      = errors.New("key cannot unlock locked proofs")
	ErrInvalidDLEQProof              = errors.New("invalid DLEQ proof")
	ErrUnblindingFailed              = errors.New("unable to unblind signature")
)

// typed views of the error codes a mint can answer with
var (
	ErrBlindedMessageAlreadySigned = errors.New("blinded message already signed")
	ErrProofAlreadySpent           = errors.New("proof already spent")
	ErrTransactionUnbalanced       = errors.New("transaction is unbalanced")
	ErrUnitNotSupported            = errors.New("unit not supported by mint")
	ErrAmountOutsideLimit          = errors.New("amount outside of limit range")
	ErrKeysetInactive              = errors.New("keyset is inactive")
	ErrQuoteNotPaid                = errors.New("quote has not been paid")
	ErrProofsAlreadyIssued         = errors.New("proofs already issued for quote")
	ErrMintingDisabled             = errors.New("minting is disabled")
	ErrQuotePending                = errors.New("quote is pending")
	ErrInvoiceAlreadyPaid          = errors.New("invoice already paid")
	ErrQuoteExpired                = errors.New("quote is expired")
)

// mapMintError maps the error codes of a mint error response to the
// typed errors above. Unknown codes propagate verbatim.
func mapMintError(cashuErr cashu.Error) error {
	var sentinel error
	switch cashuErr.Code {
	case cashu.BlindedMessageAlreadySignedErrCode:
		sentinel = ErrBlindedMessageAlreadySigned
	case cashu.ProofAlreadyUsedErrCode:
		sentinel = ErrProofAlreadySpent
	case cashu.TransactionUnbalancedErrCode:
		sentinel = ErrTransactionUnbalanced
	case cashu.UnitErrCode:
		sentinel = ErrUnitNotSupported
	case cashu.AmountLimitExceededErrCode:
		sentinel = ErrAmountOutsideLimit
	case cashu.InactiveKeysetErrCode:
		sentinel = ErrKeysetInactive
	case cashu.MintQuoteRequestNotPaidErrCode:
		sentinel = ErrQuoteNotPaid
	case cashu.MintQuoteAlreadyIssuedErrCode:
		sentinel = ErrProofsAlreadyIssued
	case cashu.MintingDisabledErrCode:
		sentinel = ErrMintingDisabled
	case cashu.MeltQuotePendingErrCode:
		sentinel = ErrQuotePending
	case cashu.MeltQuoteAlreadyPaidErrCode:
		sentinel = ErrInvoiceAlreadyPaid
	case cashu.QuoteExpiredErrCode:
		sentinel = ErrQuoteExpired
	default:
		return cashuErr
	}
	return fmt.Errorf("%w: %s", sentinel, cashuErr.Detail)
}
