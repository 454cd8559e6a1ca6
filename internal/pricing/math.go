package pricing

import "math"

// Convergence tolerance and default parameters for the rate-of-return solver.
const (
	irrDefaultGuess   = 0.10
	irrMaxIterations  = 1000
	irrConvergeWithin = 1e-7
)

// AmortizedPayment returns the periodic payment that amortizes presentValue to
// futureValue over numPeriods at the given periodic rate. A zero rate falls
// back to straight-line division. Degenerate period counts yield 0 rather than
// NaN so a dashboard never renders garbage.
func AmortizedPayment(periodicRate, numPeriods, presentValue, futureValue float64) float64 {
	if numPeriods <= 0 || math.IsNaN(numPeriods) || math.IsInf(numPeriods, 0) {
		return 0
	}
	if periodicRate == 0 {
		return -(presentValue + futureValue) / numPeriods
	}
	growth := math.Pow(1+periodicRate, numPeriods)
	return -(periodicRate * (presentValue*growth + futureValue)) / (growth - 1)
}

// NetPresentValue discounts cashFlows at the given periodic rate, treating
// index i as period i. Rates at or below -100% would blow up the discount
// base, so only the initial flow is returned in that case.
func NetPresentValue(rate float64, cashFlows []float64) float64 {
	if len(cashFlows) == 0 {
		return 0
	}
	if rate <= -1 {
		return cashFlows[0]
	}
	var value float64
	for i, cf := range cashFlows {
		value += cf / math.Pow(1+rate, float64(i))
	}
	return value
}

// npvDerivative is the analytic derivative of NetPresentValue with respect to
// the rate.
func npvDerivative(rate float64, cashFlows []float64) float64 {
	var d float64
	for i, cf := range cashFlows {
		if i == 0 {
			continue
		}
		d -= float64(i) * cf / math.Pow(1+rate, float64(i+1))
	}
	return d
}

// InternalRateOfReturn solves NPV(rate) = 0 with Newton-Raphson starting from
// a 10% guess. The boolean reports whether the solver converged; it is false
// for degenerate series (empty, all-positive) and whenever an iteration
// produces a non-finite estimate or a flat derivative.
func InternalRateOfReturn(cashFlows []float64) (float64, bool) {
	return internalRateOfReturn(cashFlows, irrDefaultGuess, irrMaxIterations)
}

func internalRateOfReturn(cashFlows []float64, guess float64, maxIterations int) (float64, bool) {
	if len(cashFlows) == 0 {
		return 0, false
	}
	rate := guess
	for i := 0; i < maxIterations; i++ {
		value := NetPresentValue(rate, cashFlows)
		derivative := npvDerivative(rate, cashFlows)
		if derivative == 0 || math.IsNaN(derivative) || math.IsInf(derivative, 0) {
			return 0, false
		}
		next := rate - value/derivative
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, false
		}
		if math.Abs(next-rate) < irrConvergeWithin {
			return next, true
		}
		rate = next
	}
	return 0, false
}
