package structure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CodeValidation is the machine-readable code carried by every ValidationError.
const CodeValidation = "validation_failed"

// ErrValidation is matched by errors.Is for any ValidationError or ValidationErrors.
var ErrValidation = errors.New("quote structure validation failed")

var hundred = decimal.NewFromInt(100)

// ValidationError is one structural rule violation at a specific tree position.
type ValidationError struct {
	Path   Path   `json:"path"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", e.Path, e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return CodeValidation }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ValidationErrors aggregates every violation found in a single pass.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Code() string { return CodeValidation }

func (v ValidationErrors) Is(target error) bool { return target == ErrValidation }

// Details exposes the individual violations to problem responses.
func (v ValidationErrors) Details() any { return []*ValidationError(v) }

// Validated is a deep copy of a quote that passed Validate. The calculation
// engine and the persistence adapter only accept this type.
type Validated struct {
	quote Quote
}

// Quote returns a copy of the validated tree.
func (v *Validated) Quote() Quote {
	return v.quote.Clone()
}

// Check validates q and, on success, returns an immutable validated copy.
func Check(q Quote) (*Validated, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	return &Validated{quote: q.Clone()}, nil
}

// CheckForSave is Check plus the naming rules a stored quote must meet: a
// title, a customer reference or name, and a name on every node. Violations
// of both rule sets are reported together.
func CheckForSave(q Quote) (*Validated, error) {
	errs := append(structural(q), naming(q)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return &Validated{quote: q.Clone()}, nil
}

// Validate applies every structural rule and returns all violations, or nil.
// Names and the customer are not required here; see CheckForSave.
func Validate(q Quote) error {
	if errs := structural(q); len(errs) > 0 {
		return errs
	}
	return nil
}

func structural(q Quote) ValidationErrors {
	var errs ValidationErrors
	add := func(p Path, field, reason string) {
		errs = append(errs, &ValidationError{Path: p, Field: field, Reason: reason})
	}

	if q.AgencyFeeRate.IsNegative() || q.AgencyFeeRate.GreaterThan(hundred) {
		add(QuotePath(), "agency_fee_rate", "must be between 0 and 100")
	}
	if q.DiscountAmount.IsNegative() {
		add(QuotePath(), "discount_amount", "must not be negative")
	}
	if !q.VATMode.Valid() {
		add(QuotePath(), "vat_mode", fmt.Sprintf("unknown vat mode %q", q.VATMode))
	}
	if len(q.Groups) == 0 {
		add(QuotePath(), "groups", "at least one group is required")
	}

	for gi, g := range q.Groups {
		if len(g.Items) == 0 {
			add(GroupPath(gi), "items", "at least one item is required")
		}
		for ii, it := range g.Items {
			if len(it.Details) == 0 {
				add(ItemPath(gi, ii), "details", "at least one detail is required")
			}
			for di, d := range it.Details {
				p := DetailPath(gi, ii, di)
				nonNegative := []struct {
					field string
					value decimal.Decimal
				}{
					{"quantity", d.Quantity},
					{"days", d.Days},
					{"unit_price", d.UnitPrice},
					{"cost_price", d.CostPrice},
				}
				for _, n := range nonNegative {
					if n.value.IsNegative() {
						add(p, n.field, "must not be negative")
					}
				}
			}
		}
	}
	return errs
}

func naming(q Quote) ValidationErrors {
	var errs ValidationErrors
	add := func(p Path, field, reason string) {
		errs = append(errs, &ValidationError{Path: p, Field: field, Reason: reason})
	}
	if strings.TrimSpace(q.Title) == "" {
		add(QuotePath(), "title", "is required")
	}
	if q.CustomerID == nil && strings.TrimSpace(q.CustomerName) == "" {
		add(QuotePath(), "customer", "a customer reference or a customer name is required")
	}
	for gi, g := range q.Groups {
		if strings.TrimSpace(g.Name) == "" {
			add(GroupPath(gi), "name", "is required")
		}
		for ii, it := range g.Items {
			if strings.TrimSpace(it.Name) == "" {
				add(ItemPath(gi, ii), "name", "is required")
			}
			for di, d := range it.Details {
				if strings.TrimSpace(d.Name) == "" {
					add(DetailPath(gi, ii, di), "name", "is required")
				}
			}
		}
	}
	return errs
}
