package quoting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/equiplease/quote-api/internal/quote"
)

func validationQuote() *quote.Quote {
	q := &quote.Quote{
		Customer:    "ACME",
		Slots:       quote.EmptySlots(),
		FactoryRate: 1,
	}
	q.Slots[0] = validSlot()
	return q
}

func findIssue(t *testing.T, issues Issues, field string) Issue {
	t.Helper()
	for _, i := range issues {
		if i.Field == field {
			return i
		}
	}
	t.Fatalf("no issue for field %q in %+v", field, issues)
	return Issue{}
}

func TestValidQuoteHasNoBlockingIssues(t *testing.T) {
	v := NewValidator()
	issues := v.Validate(validationQuote())
	require.False(t, issues.HasBlocking(), "unexpected blocking issues: %+v", issues.Blocking())
}

func TestMissingCustomerBlocks(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Customer = "  "

	issues := v.Validate(q)
	i := findIssue(t, issues, "customer")
	require.Equal(t, SeverityError, i.Severity)
	require.True(t, issues.HasBlocking())
}

func TestEmptyFleetBlocks(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Slots = quote.EmptySlots()

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots")
	require.Equal(t, SeverityError, i.Severity)
}

func TestZeroQuantityBlocks(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Slots[0].Quantity = 0

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots[0].quantity")
	require.Equal(t, SeverityError, i.Severity)
}

func TestInvalidLeaseTermBlocks(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Slots[0].TermMonths = 13

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots[0].termMonths")
	require.Equal(t, SeverityError, i.Severity)
}

func TestDiscountOverDefaultWarnsOnly(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.DefaultDiscountPct = 10
	q.Slots[0].DiscountPct = 15

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots[0].discountPct")
	require.Equal(t, SeverityWarning, i.Severity)
	require.False(t, issues.HasBlocking())
}

func TestThinMarginWarnsOnly(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Slots[0].MarkupPct = 2

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots[0].markupPct")
	require.Equal(t, SeverityWarning, i.Severity)
	require.False(t, issues.HasBlocking())
}

func TestDiscountOutOfRangeBlocks(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	q.Slots[0].DiscountPct = 130

	issues := v.Validate(q)
	i := findIssue(t, issues, "slots[0].discountPct")
	require.Equal(t, SeverityError, i.Severity)
}

func TestInactiveSlotsAreSkipped(t *testing.T) {
	v := NewValidator()
	q := validationQuote()
	// An empty slot with garbage values must not produce issues.
	q.Slots[1] = quote.Slot{Empty: true, Quantity: -5, DiscountPct: 400}

	issues := v.Validate(q)
	for _, i := range issues {
		require.NotContains(t, i.Field, "slots[1]")
	}
}
