package forecasting

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData marks expected data-sufficiency failures.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnsupportedModel is returned when a model exposes no forecasting capability.
	ErrUnsupportedModel = errors.New("model does not support forecasting")
	// ErrModelNotFound signals an absent artifact. It triggers training, it is not a failure.
	ErrModelNotFound = errors.New("model not found")
	// ErrCorruptModel is returned when a stored artifact cannot be decoded.
	ErrCorruptModel = errors.New("corrupt model artifact")
)

// Messages reported for the data guards of the training pipeline.
const (
	MsgNoHistory       = "Insufficient historical sales data to train a forecasting model."
	MsgShortOrFlat     = "Historical series is too short or lacks variability for reliable training."
	MsgForecastHistory = "Not enough historical sales to forecast (need at least 7 days)."
)

// InsufficientDataError carries the user-facing reason.
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string { return e.Reason }

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// ModelFittingError is returned when both the primary and the fallback fit failed.
type ModelFittingError struct {
	Primary  error
	Fallback error
}

func (e *ModelFittingError) Error() string {
	return fmt.Sprintf("model fitting failed: %v (fallback: %v)", e.Primary, e.Fallback)
}

func (e *ModelFittingError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

var errEmptyOrNaN = errors.New("series is empty or contains NaN")
