package services

import (
	"errors"
	"fmt"
)

// ErrValidation agrupa los errores de entrada corregibles por el usuario.
var ErrValidation = errors.New("validation error")

var (
	ErrInvalidAmount = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrInvalidPrice  = fmt.Errorf("%w: unit price must be greater than zero", ErrValidation)
	ErrInvalidKind   = fmt.Errorf("%w: type must be buy or sell", ErrValidation)
	ErrInvalidAsset  = fmt.Errorf("%w: asset id is required", ErrValidation)
	ErrInvalidUser   = fmt.Errorf("%w: user id is required", ErrValidation)
)

var (
	ErrUnknownAsset         = errors.New("unknown asset")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrTransactionFailed envuelve fallas del almacenamiento; la unidad de trabajo se revirtió.
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrUpstreamUnavailable = errors.New("market data provider unavailable")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPositionNotFound    = errors.New("position not found")
)
