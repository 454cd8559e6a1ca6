package pricing

import "math"

// Totals aggregates all active slots of a quote. Rate is the monthly internal
// rate of return of the blended cash-flow series; RateFound is false when the
// solver did not converge or the fleet is empty.
type Totals struct {
	ActiveSlots   int
	TotalUnits    int
	SalesPrice    float64
	FactoryCost   float64
	LandedCost    float64
	LeaseTotal    float64
	MonthlyTotal  float64
	ContractValue float64

	// Margin blended across slots, weighted by each slot's sales value so a
	// large low-margin slot dominates a small high-margin one.
	MarginPct float64

	AvgTermMonths int
	CashFlows     []float64
	Rate          float64
	RateFound     bool
	NPV           float64
}

// Aggregate combines the active slots into quote-level totals and derives the
// blended cash-flow series, its rate of return, and its net present value at
// the quote's monthly finance rate. All sums are weighted by slot quantity.
//
// The blended margin is weighted by sales price while the cash-flow base uses
// landed cost. The two bases are intentionally different and must stay so.
func Aggregate(slots []SlotInput, factoryRate, monthlyFinanceRate float64) Totals {
	var t Totals
	var marginWeight float64
	var monthlyCosts float64
	var residualTotal float64
	var termSum int

	for _, in := range slots {
		b, ok := PriceSlot(in, factoryRate)
		if !ok {
			continue
		}
		qty := float64(in.Quantity)
		t.ActiveSlots++
		t.TotalUnits += in.Quantity
		t.SalesPrice += b.SellingPrice * qty
		t.FactoryCost += b.FactoryCost * qty
		t.LandedCost += b.LandedCost * qty
		t.LeaseTotal += b.LeasePayment * qty
		t.MonthlyTotal += b.TotalMonthly * qty
		t.ContractValue += b.ContractValue
		residualTotal += b.ResidualValue * qty
		monthlyCosts += in.MonthlyCost(b) * qty
		termSum += in.TermMonths

		salesValue := b.SellingPrice * qty
		t.MarginPct += b.MarginPct * salesValue
		marginWeight += salesValue
	}
	if t.ActiveSlots == 0 {
		return t
	}
	if marginWeight != 0 {
		t.MarginPct /= marginWeight
	} else {
		t.MarginPct = 0
	}

	t.AvgTermMonths = int(math.Round(float64(termSum) / float64(t.ActiveSlots)))
	t.CashFlows = blendedCashFlows(t.LandedCost, t.MonthlyTotal, monthlyCosts, residualTotal, t.AvgTermMonths)
	t.Rate, t.RateFound = InternalRateOfReturn(t.CashFlows)
	t.NPV = NetPresentValue(monthlyFinanceRate, t.CashFlows)
	return t
}

// blendedCashFlows builds the quote-level series: the full landed cost out at
// period zero, the net monthly result for each period of the average term,
// and the residual value recovered in the final period.
func blendedCashFlows(landedCost, monthlyIncome, monthlyCosts, residualTotal float64, termMonths int) []float64 {
	if termMonths <= 0 {
		return []float64{-landedCost}
	}
	flows := make([]float64, termMonths+1)
	flows[0] = -landedCost
	net := monthlyIncome - monthlyCosts
	for i := 1; i <= termMonths; i++ {
		flows[i] = net
	}
	flows[termMonths] += residualTotal
	return flows
}
