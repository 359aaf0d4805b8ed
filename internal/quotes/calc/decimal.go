package calc

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const CodeArithmetic = "arithmetic_error"

// ErrArithmetic is matched by errors.Is for every ArithmeticError.
var ErrArithmetic = errors.New("non-finite numeric input")

// ArithmeticError marks a NaN or infinite value reaching the pricing code. It
// is a contract violation by the caller, not a user error.
type ArithmeticError struct {
	Field string
	Value float64
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("calc: %s is not finite (%v)", e.Field, e.Value)
}

func (e *ArithmeticError) Code() string { return CodeArithmetic }

func (e *ArithmeticError) Is(target error) bool { return target == ErrArithmetic }

// FromFloat converts a float-sourced figure into a decimal, refusing NaN and ±Inf.
func FromFloat(field string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, &ArithmeticError{Field: field, Value: v}
	}
	return decimal.NewFromFloat(v), nil
}
