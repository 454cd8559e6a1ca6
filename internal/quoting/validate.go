package quoting

import (
	"errors"
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/equiplease/quote-api/internal/pricing"
	"github.com/equiplease/quote-api/internal/quote"
)

// Severity tags a validation issue. Only error-severity issues block
// submission; warnings are advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one field-level validation finding.
type Issue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Issues is the full finding list for a quote.
type Issues []Issue

// Blocking returns only the error-severity issues.
func (is Issues) Blocking() Issues {
	var out Issues
	for _, i := range is {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// HasBlocking reports whether any issue blocks forward progress.
func (is Issues) HasBlocking() bool {
	return len(is.Blocking()) > 0
}

// slotRules mirrors the numeric constraints on an active slot.
type slotRules struct {
	Quantity      int     `validate:"gte=1"`
	BaseCost      float64 `validate:"gt=0"`
	DiscountPct   float64 `validate:"gte=0,lte=100"`
	MarkupPct     float64 `validate:"gte=0"`
	ResidualPct   float64 `validate:"gte=0,lte=100"`
	AnnualRatePct float64 `validate:"gte=0"`
	HoursPerMonth float64 `validate:"gte=0"`
}

// Validator evaluates a quote's fitness for submission.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds the validator once; it is safe for concurrent use.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate runs all field checks over the quote. Inactive slots are skipped
// entirely.
func (val *Validator) Validate(q *quote.Quote) Issues {
	var issues Issues

	if strings.TrimSpace(q.Customer) == "" {
		issues = append(issues, Issue{Field: "customer", Severity: SeverityError, Message: "customer is required"})
	}

	active := 0
	for i, sl := range q.Slots {
		if sl.Empty {
			continue
		}
		active++
		issues = append(issues, val.validateSlot(i, sl, q)...)
	}
	if active == 0 {
		issues = append(issues, Issue{Field: "slots", Severity: SeverityError, Message: "at least one active slot is required"})
	}
	return issues
}

func (val *Validator) validateSlot(index int, sl quote.Slot, q *quote.Quote) Issues {
	var issues Issues
	field := func(name string) string { return fmt.Sprintf("slots[%d].%s", index, name) }

	rules := slotRules{
		Quantity:      sl.Quantity,
		BaseCost:      sl.BaseCost,
		DiscountPct:   sl.DiscountPct,
		MarkupPct:     sl.MarkupPct,
		ResidualPct:   sl.ResidualPct,
		AnnualRatePct: sl.AnnualRatePct,
		HoursPerMonth: sl.HoursPerMonth,
	}
	if err := val.v.Struct(rules); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, Issue{
					Field:    field(lowerFirst(fe.Field())),
					Severity: SeverityError,
					Message:  fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param()),
				})
			}
		} else {
			issues = append(issues, Issue{Field: field(""), Severity: SeverityError, Message: err.Error()})
		}
	}

	if !quote.ValidLeaseTerm(sl.TermMonths) {
		issues = append(issues, Issue{
			Field:    field("termMonths"),
			Severity: SeverityError,
			Message:  fmt.Sprintf("term must be one of %v months", quote.LeaseTerms),
		})
	}
	if q.DefaultDiscountPct > 0 && sl.DiscountPct > q.DefaultDiscountPct {
		issues = append(issues, Issue{
			Field:    field("discountPct"),
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("discount %.1f%% exceeds the default %.1f%%", sl.DiscountPct, q.DefaultDiscountPct),
		})
	}
	if sl.MaintenancePerHour > 0 && sl.HoursPerMonth == 0 {
		issues = append(issues, Issue{
			Field:    field("hoursPerMonth"),
			Severity: SeverityWarning,
			Message:  "maintenance rate set but monthly hours are zero",
		})
	}
	if b, ok := pricing.PriceSlot(sl.PricingInput(), q.FactoryRate); ok && b.MarginPct < 5 {
		issues = append(issues, Issue{
			Field:    field("markupPct"),
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("margin %.1f%% is below the 5%% floor", b.MarginPct),
		})
	}
	return issues
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
