package cardano

import (
	"github.com/pkg/errors"
)

// Validation errors are detected locally, before any network interaction.
var (
	ErrNoInputs                = errors.New("transaction has no inputs")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrNegativeChange          = errors.New("inputs do not cover outputs")
	ErrDatumMismatch           = errors.New("datum hash does not match utxo")
	ErrMissingRequiredSigner   = errors.New("required signer has no signing key")
	ErrInvalidValue            = errors.New("invalid value")
	ErrNetworkMismatch         = errors.New("address network mismatch")
	ErrInvalidCollateral       = errors.New("invalid collateral")
	ErrOutputBelowMinimum      = errors.New("output below minimum lovelace")
	ErrTransactionTooLarge     = errors.New("transaction too large")
	ErrInvalidTransactionInput = errors.New("invalid transaction input")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrInvalidKey              = errors.New("invalid signing key")
	ErrScriptMismatch          = errors.New("script does not lock utxo")
)

// Resource errors mean the request cannot be satisfied with the current
// holdings or parameters.
var (
	ErrNoCollateralAvailable  = errors.New("no collateral available")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrFeeComputationFailed   = errors.New("fee computation failed")
)

// Transport errors. None of these are retried internally.
var (
	ErrConnection      = errors.New("connection error")
	ErrRequestTimeout  = errors.New("request timeout")
	ErrSessionBusy     = errors.New("session busy")
	ErrSessionNotOpen  = errors.New("session not open")
	ErrSubmission      = errors.New("submission failed")
	ErrUnsupported     = errors.New("unsupported by transport")
	ErrMalformedFrame  = errors.New("malformed response frame")
	ErrChainQuery      = errors.New("chain query failed")
	ErrRpcFailed       = errors.New("rpc failed")
	ErrHandshakeRefuse = errors.New("handshake refused")
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidConfig      = errors.New("invalid config")
)

// AllErrors lists the sentinels that survive a trip through the rpc server,
// matched by message on the client side.
var AllErrors = []error{
	ErrNoInputs,
	ErrInsufficientFunds,
	ErrNegativeChange,
	ErrDatumMismatch,
	ErrMissingRequiredSigner,
	ErrInvalidValue,
	ErrNetworkMismatch,
	ErrInvalidCollateral,
	ErrOutputBelowMinimum,
	ErrTransactionTooLarge,
	ErrInvalidTransactionInput,
	ErrInvalidAddress,
	ErrInvalidKey,
	ErrScriptMismatch,
	ErrNoCollateralAvailable,
	ErrInsufficientCollateral,
	ErrFeeComputationFailed,
	ErrConnection,
	ErrRequestTimeout,
	ErrSessionBusy,
	ErrSessionNotOpen,
	ErrSubmission,
	ErrChainQuery,
	ErrSubmissionNotFound,
}

// markedError lets one error match two sentinels: its category (mark) and
// whatever the cause chain already matches.
type markedError struct {
	mark  error
	cause error
}

func (e *markedError) Error() string {
	return e.mark.Error() + ": " + e.cause.Error()
}

func (e *markedError) Is(target error) bool {
	return target == e.mark
}

func (e *markedError) Unwrap() error {
	return e.cause
}

func mark(cause, category error) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&markedError{mark: category, cause: cause})
}
