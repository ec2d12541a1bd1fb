package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Only ErrInsufficientData and ErrProvider are contained per
// symbol; the others abort the invocation.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrProvider         = errors.New("provider error")
	ErrSinkWrite        = errors.New("sink write error")

	// ErrNoSymbols is returned when the symbol source yields nothing to analyze.
	ErrNoSymbols = errors.New("no symbols to analyze")
)

// InsufficientDataError reports a history shorter than Need valid points.
// Its text is the one written to the sheet's error column.
type InsufficientDataError struct {
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("Insufficient data (need at least %d days)", e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }
