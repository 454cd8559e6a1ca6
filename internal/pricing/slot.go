package pricing

// SlotInput carries the configuration of one fleet slot needed to derive its
// full cost and cash-flow breakdown. Monetary fields are foreign currency
// where named so, local currency otherwise.
type SlotInput struct {
	Empty    bool
	Quantity int

	// Foreign-currency procurement side.
	BaseCost           float64
	OptionsCost        float64
	FactoryAttachments float64
	DiscountPct        float64

	// Local-currency landing charges.
	SeaFreight       float64
	CustomsClearance float64
	InlandTransport  float64
	Installation     float64
	Commissioning    float64
	BatteryCost      float64
	LocalAttachments float64
	TelematicsCost   float64

	// Commercial terms.
	MarkupPct     float64
	ResidualPct   float64
	AnnualRatePct float64
	TermMonths    int
	HoursPerMonth float64

	// Recurring amounts per month. Cost fields are what the lessor pays,
	// price fields what the customer is billed.
	MaintenancePerHour float64
	TyresPerHour       float64
	SubscriptionCost   float64
	SubscriptionPrice  float64
	OperatorCost       float64
	OperatorPrice      float64
}

// Breakdown is the derived pricing cascade for one slot. It is never
// persisted; callers recompute it from the slot and quote parameters.
type Breakdown struct {
	GrossForeignCost   float64
	NetForeignCost     float64
	FactoryCost        float64
	LandedCost         float64
	SellingPrice       float64
	MarginPct          float64
	ResidualValue      float64
	LeasePayment       float64
	MonthlyMaintenance float64
	TotalMonthly       float64
	CostPerHour        float64
	ContractValue      float64
}

// MonthlyCost is the lessor-side recurring outflow for the slot, used when
// blending the quote cash-flow series.
func (in SlotInput) MonthlyCost(b Breakdown) float64 {
	return b.MonthlyMaintenance + in.SubscriptionCost + in.OperatorCost
}

// PriceSlot derives the full breakdown for one slot at the quote's factory
// exchange rate. The stages build on each other in a fixed order; reordering
// them changes the result. The boolean is false for an empty slot, which must
// contribute nothing to any aggregate.
func PriceSlot(in SlotInput, factoryRate float64) (Breakdown, bool) {
	if in.Empty {
		return Breakdown{}, false
	}
	var b Breakdown

	b.GrossForeignCost = in.BaseCost + in.OptionsCost + in.FactoryAttachments
	b.NetForeignCost = b.GrossForeignCost * (1 - in.DiscountPct/100)
	b.FactoryCost = b.NetForeignCost * factoryRate
	b.LandedCost = b.FactoryCost +
		in.SeaFreight + in.CustomsClearance + in.InlandTransport +
		in.Installation + in.Commissioning +
		in.BatteryCost + in.LocalAttachments + in.TelematicsCost
	b.SellingPrice = b.LandedCost * (1 + in.MarkupPct/100)
	if b.SellingPrice != 0 {
		b.MarginPct = (b.SellingPrice - b.LandedCost) / b.SellingPrice * 100
	}
	b.ResidualValue = b.SellingPrice * in.ResidualPct / 100
	b.LeasePayment = AmortizedPayment(in.AnnualRatePct/12/100, float64(in.TermMonths), -b.SellingPrice, b.ResidualValue)
	b.MonthlyMaintenance = (in.MaintenancePerHour + in.TyresPerHour) * in.HoursPerMonth
	b.TotalMonthly = b.LeasePayment + b.MonthlyMaintenance + in.SubscriptionPrice + in.OperatorPrice
	if in.HoursPerMonth != 0 {
		b.CostPerHour = b.TotalMonthly / in.HoursPerMonth
	}
	b.ContractValue = b.TotalMonthly * float64(in.TermMonths) * float64(in.Quantity)

	return b, true
}
