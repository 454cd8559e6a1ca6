package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateEmptyFleet(t *testing.T) {
	t1 := Aggregate(nil, 20, 0.01)
	require.Zero(t, t1.ActiveSlots)
	require.Zero(t, t1.SalesPrice)
	require.False(t, t1.RateFound)
	require.Nil(t, t1.CashFlows)

	t2 := Aggregate([]SlotInput{{Empty: true, BaseCost: 1000}}, 20, 0.01)
	require.Zero(t, t2.ActiveSlots)
	require.False(t, t2.RateFound)
}

func TestAggregateSumsWeightedByQuantity(t *testing.T) {
	slots := []SlotInput{
		{Quantity: 2, BaseCost: 1000, MarkupPct: 25, TermMonths: 36},
		{Quantity: 1, BaseCost: 500, MarkupPct: 25, TermMonths: 36},
		{Empty: true, Quantity: 10, BaseCost: 9999},
	}
	tot := Aggregate(slots, 20, 0.01)
	require.Equal(t, 2, tot.ActiveSlots)
	require.Equal(t, 3, tot.TotalUnits)
	// 2*25000 + 1*12500
	require.InDelta(t, 62500, tot.SalesPrice, 1e-9)
	require.InDelta(t, 50000, tot.LandedCost, 1e-9)
	require.InDelta(t, 40000+10000, tot.FactoryCost, 1e-9)
}

func TestAggregateSalesWeightedMargin(t *testing.T) {
	// One large slot at 20% margin and one small slot at 50% margin. The
	// blended value must sit close to the large slot, not at the midpoint.
	slots := []SlotInput{
		{Quantity: 1, BaseCost: 10000, MarkupPct: 25, TermMonths: 36}, // sells 250000, 20% margin
		{Quantity: 1, BaseCost: 100, MarkupPct: 100, TermMonths: 36},  // sells 4000, 50% margin
	}
	tot := Aggregate(slots, 20, 0.01)
	want := (20*250000.0 + 50*4000.0) / 254000.0
	require.InDelta(t, want, tot.MarginPct, 1e-9)
	require.Less(t, tot.MarginPct, 25.0)
}

func TestAggregateAverageTermRounds(t *testing.T) {
	slots := []SlotInput{
		{Quantity: 1, BaseCost: 100, TermMonths: 36},
		{Quantity: 1, BaseCost: 100, TermMonths: 37},
	}
	tot := Aggregate(slots, 20, 0.01)
	require.Equal(t, 37, tot.AvgTermMonths) // 36.5 rounds up
	require.Len(t, tot.CashFlows, 38)
}

func TestAggregateCashFlowShape(t *testing.T) {
	slots := []SlotInput{{
		Quantity:      1,
		BaseCost:      1000,
		MarkupPct:     25,
		ResidualPct:   10,
		AnnualRatePct: 12,
		TermMonths:    24,
	}}
	tot := Aggregate(slots, 20, 0.01)
	require.Len(t, tot.CashFlows, 25)
	require.InDelta(t, -20000, tot.CashFlows[0], 1e-9)
	// Interior periods carry the net monthly result.
	require.InDelta(t, tot.MonthlyTotal, tot.CashFlows[1], 1e-9)
	// The final period additionally recovers the residual.
	require.InDelta(t, tot.CashFlows[1]+2500, tot.CashFlows[24], 1e-9)
}

func TestAggregateRateConverges(t *testing.T) {
	slots := []SlotInput{{
		Quantity:      1,
		BaseCost:      1000,
		MarkupPct:     25,
		ResidualPct:   10,
		AnnualRatePct: 12,
		TermMonths:    48,
	}}
	tot := Aggregate(slots, 20, 0.01)
	require.True(t, tot.RateFound)
	// A priced-up deal with residual recovery earns a positive monthly rate.
	require.Positive(t, tot.Rate)
	require.InDelta(t, 0, NetPresentValue(tot.Rate, tot.CashFlows), 1e-3)
}

func TestAggregateNPVAtZeroRateIsSum(t *testing.T) {
	slots := []SlotInput{{Quantity: 1, BaseCost: 1000, MarkupPct: 10, TermMonths: 12}}
	tot := Aggregate(slots, 20, 0)
	var sum float64
	for _, cf := range tot.CashFlows {
		sum += cf
	}
	require.InDelta(t, sum, tot.NPV, 1e-9)
}
