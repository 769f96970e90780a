package domain

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("%w: ...") and test with
// errors.Is.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrDataIntegrity     = errors.New("data integrity error")
	ErrNumericAnomaly    = errors.New("numeric anomaly")
	ErrCancelled         = errors.New("backtest cancelled")
	ErrNotFound          = errors.New("not found")
)

// ErrorKind returns a short machine-readable tag for err, or "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrNumericAnomaly):
		return "numeric_anomaly"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
