package record

import "fmt"

// ValidationError říká, které pole neprošlo kontrolou a s jakou hodnotou.
// Decoder ji vrací i pro chybějící klíče a špatné typy v payloadu.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s (value %v)", e.Field, e.Reason, e.Value)
}

func outOfRange(field string, v, lo, hi float64) *ValidationError {
	return &ValidationError{
		Field:  field,
		Value:  v,
		Reason: fmt.Sprintf("out of range [%g, %g]", lo, hi),
	}
}
