package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriceSlotEmpty(t *testing.T) {
	_, ok := PriceSlot(SlotInput{Empty: true, BaseCost: 1000, Quantity: 1}, 20)
	require.False(t, ok)
}

func TestPriceSlotCascade(t *testing.T) {
	in := SlotInput{
		Quantity:    1,
		BaseCost:    1000,
		MarkupPct:   25,
		TermMonths:  60,
		ResidualPct: 10,
	}
	b, ok := PriceSlot(in, 20)
	require.True(t, ok)
	require.InDelta(t, 1000, b.GrossForeignCost, 1e-9)
	require.InDelta(t, 1000, b.NetForeignCost, 1e-9)
	require.InDelta(t, 20000, b.FactoryCost, 1e-9)
	require.InDelta(t, 20000, b.LandedCost, 1e-9)
	require.InDelta(t, 25000, b.SellingPrice, 1e-9)
	require.InDelta(t, 20, b.MarginPct, 1e-9)
	require.InDelta(t, 2500, b.ResidualValue, 1e-9)
}

func TestPriceSlotDiscountAndCharges(t *testing.T) {
	in := SlotInput{
		Quantity:         2,
		BaseCost:         1000,
		OptionsCost:      200,
		DiscountPct:      10,
		SeaFreight:       1500,
		CustomsClearance: 500,
		BatteryCost:      2000,
		MarkupPct:        20,
		TermMonths:       36,
	}
	b, ok := PriceSlot(in, 10)
	require.True(t, ok)
	require.InDelta(t, 1200, b.GrossForeignCost, 1e-9)
	require.InDelta(t, 1080, b.NetForeignCost, 1e-9)
	require.InDelta(t, 10800, b.FactoryCost, 1e-9)
	require.InDelta(t, 14800, b.LandedCost, 1e-9)
	require.InDelta(t, 17760, b.SellingPrice, 1e-9)
}

func TestPriceSlotMarginEdgeCases(t *testing.T) {
	// Zero selling price must not divide by zero.
	b, ok := PriceSlot(SlotInput{Quantity: 1}, 20)
	require.True(t, ok)
	require.Zero(t, b.MarginPct)

	// Negative markup sells below landed cost: margin goes negative.
	b, ok = PriceSlot(SlotInput{Quantity: 1, BaseCost: 1000, MarkupPct: -10}, 20)
	require.True(t, ok)
	require.Negative(t, b.MarginPct)
}

func TestPriceSlotMonthlyAndHourly(t *testing.T) {
	in := SlotInput{
		Quantity:           1,
		BaseCost:           1000,
		MarkupPct:          25,
		TermMonths:         60,
		AnnualRatePct:      12,
		HoursPerMonth:      160,
		MaintenancePerHour: 1.5,
		TyresPerHour:       0.5,
		SubscriptionPrice:  45,
		OperatorPrice:      300,
	}
	b, ok := PriceSlot(in, 20)
	require.True(t, ok)

	wantLease := AmortizedPayment(0.01, 60, -25000, 0)
	require.InDelta(t, wantLease, b.LeasePayment, 1e-9)
	require.InDelta(t, 320, b.MonthlyMaintenance, 1e-9)
	require.InDelta(t, wantLease+320+45+300, b.TotalMonthly, 1e-9)
	require.InDelta(t, b.TotalMonthly/160, b.CostPerHour, 1e-9)
	require.InDelta(t, b.TotalMonthly*60, b.ContractValue, 1e-9)
}

func TestPriceSlotZeroHours(t *testing.T) {
	b, ok := PriceSlot(SlotInput{Quantity: 1, BaseCost: 1000, TermMonths: 12}, 20)
	require.True(t, ok)
	require.Zero(t, b.CostPerHour)
}

func TestPriceSlotContractValueScalesWithQuantity(t *testing.T) {
	in := SlotInput{Quantity: 3, BaseCost: 1000, MarkupPct: 25, TermMonths: 12}
	b, ok := PriceSlot(in, 20)
	require.True(t, ok)

	in.Quantity = 1
	single, _ := PriceSlot(in, 20)
	require.InDelta(t, single.ContractValue*3, b.ContractValue, 1e-9)
}
