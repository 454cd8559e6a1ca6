package quote

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/equiplease/quote-api/internal/pricing"
)

// Status enumerates the quote workflow states.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusInReview      Status = "in_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusChangeRequest Status = "change_request"
	StatusClosed        Status = "closed"
)

// Valid reports whether the status is part of the closed enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusChangeRequest, StatusClosed:
		return true
	}
	return false
}

// SlotCount is the fixed size of the fleet collection on every quote.
const SlotCount = 6

// LeaseTerms is the enumerated set of selectable lease terms in months.
var LeaseTerms = []int{12, 24, 36, 48, 60}

// ValidLeaseTerm reports whether months is one of the selectable terms.
func ValidLeaseTerm(months int) bool {
	for _, t := range LeaseTerms {
		if t == months {
			return true
		}
	}
	return false
}

// Slot is one configurable line item of the fleet. A slot flagged Empty
// contributes nothing to pricing, shipping, or validation.
type Slot struct {
	Empty      bool   `json:"empty"`
	FamilyCode string `json:"familyCode,omitempty"`
	ModelCode  string `json:"modelCode,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`

	BaseCost           float64 `json:"baseCost,omitempty"`
	OptionsCost        float64 `json:"optionsCost,omitempty"`
	FactoryAttachments float64 `json:"factoryAttachments,omitempty"`
	DiscountPct        float64 `json:"discountPct,omitempty"`

	SeaFreight       float64 `json:"seaFreight,omitempty"`
	CustomsClearance float64 `json:"customsClearance,omitempty"`
	InlandTransport  float64 `json:"inlandTransport,omitempty"`
	Installation     float64 `json:"installation,omitempty"`
	Commissioning    float64 `json:"commissioning,omitempty"`
	BatteryCost      float64 `json:"batteryCost,omitempty"`
	LocalAttachments float64 `json:"localAttachments,omitempty"`
	TelematicsCost   float64 `json:"telematicsCost,omitempty"`

	MarkupPct     float64 `json:"markupPct,omitempty"`
	ResidualPct   float64 `json:"residualPct,omitempty"`
	AnnualRatePct float64 `json:"annualRatePct,omitempty"`
	TermMonths    int     `json:"termMonths,omitempty"`
	HoursPerMonth float64 `json:"hoursPerMonth,omitempty"`

	MaintenancePerHour float64 `json:"maintenancePerHour,omitempty"`
	TyresPerHour       float64 `json:"tyresPerHour,omitempty"`
	SubscriptionCost   float64 `json:"subscriptionCost,omitempty"`
	SubscriptionPrice  float64 `json:"subscriptionPrice,omitempty"`
	OperatorCost       float64 `json:"operatorCost,omitempty"`
	OperatorPrice      float64 `json:"operatorPrice,omitempty"`
}

// PricingInput converts the slot into the pure pricing representation.
func (s Slot) PricingInput() pricing.SlotInput {
	return pricing.SlotInput{
		Empty:              s.Empty,
		Quantity:           s.Quantity,
		BaseCost:           s.BaseCost,
		OptionsCost:        s.OptionsCost,
		FactoryAttachments: s.FactoryAttachments,
		DiscountPct:        s.DiscountPct,
		SeaFreight:         s.SeaFreight,
		CustomsClearance:   s.CustomsClearance,
		InlandTransport:    s.InlandTransport,
		Installation:       s.Installation,
		Commissioning:      s.Commissioning,
		BatteryCost:        s.BatteryCost,
		LocalAttachments:   s.LocalAttachments,
		TelematicsCost:     s.TelematicsCost,
		MarkupPct:          s.MarkupPct,
		ResidualPct:        s.ResidualPct,
		AnnualRatePct:      s.AnnualRatePct,
		TermMonths:         s.TermMonths,
		HoursPerMonth:      s.HoursPerMonth,
		MaintenancePerHour: s.MaintenancePerHour,
		TyresPerHour:       s.TyresPerHour,
		SubscriptionCost:   s.SubscriptionCost,
		SubscriptionPrice:  s.SubscriptionPrice,
		OperatorCost:       s.OperatorCost,
		OperatorPrice:      s.OperatorPrice,
	}
}

// ShippingEntry is one freight-container line on the quote, either entered by
// hand or generated by the shipping advisor. Suggested entries carry the
// signature of the fleet state they were computed from so staleness can be
// detected later.
type ShippingEntry struct {
	Description string  `json:"description"`
	FamilyCode  string  `json:"familyCode,omitempty"`
	Containers  int     `json:"containers"`
	UnitCost    float64 `json:"unitCost"`
	TotalCost   float64 `json:"totalCost"`
	Suggested   bool    `json:"suggested"`
	Unmapped    bool    `json:"unmapped,omitempty"`
	Signature   string  `json:"signature,omitempty"`
}

// Quote is the aggregate root. Version moves only on successful persisted
// saves; in-memory edits advance LastModified alone.
type Quote struct {
	ID         uuid.UUID `json:"id"`
	Reference  string    `json:"reference"`
	Status     Status    `json:"status"`
	OwnerID    string    `json:"ownerId"`
	ApproverID string    `json:"approverId,omitempty"`
	Customer   string    `json:"customer,omitempty"`

	Slots    []Slot          `json:"slots"`
	Shipping []ShippingEntry `json:"shipping,omitempty"`

	FactoryRate        float64 `json:"factoryRate"`
	CustomerRate       float64 `json:"customerRate"`
	DefaultDiscountPct float64 `json:"defaultDiscountPct"`
	DefaultInterestPct float64 `json:"defaultInterestPct"`

	Version      int64     `json:"version"`
	LockedBy     string    `json:"lockedBy,omitempty"`
	LockedAt     time.Time `json:"lockedAt,omitempty"`
	LastModified time.Time `json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// New returns a fresh draft quote with an empty fleet and default parameters.
func New(id uuid.UUID, reference, ownerID string, now time.Time) *Quote {
	return &Quote{
		ID:                 id,
		Reference:          reference,
		Status:             StatusDraft,
		OwnerID:            ownerID,
		Slots:              EmptySlots(),
		FactoryRate:        1,
		CustomerRate:       1,
		DefaultInterestPct: 6,
		LastModified:       now,
		CreatedAt:          now,
	}
}

// EmptySlots returns the default fleet collection: SlotCount inactive slots.
func EmptySlots() []Slot {
	slots := make([]Slot, SlotCount)
	for i := range slots {
		slots[i] = Slot{Empty: true}
	}
	return slots
}

// NormalizeSlots repairs a malformed persisted fleet. Anything that is not
// exactly SlotCount entries is replaced wholesale by the default empty
// collection; a load must never fail on a corrupt slot payload.
func (q *Quote) NormalizeSlots() {
	if len(q.Slots) != SlotCount {
		q.Slots = EmptySlots()
	}
}

// MonthlyFinanceRate is the quote-level periodic discount rate used for the
// net-present-value of the blended cash-flow series.
func (q *Quote) MonthlyFinanceRate() float64 {
	return q.DefaultInterestPct / 12 / 100
}

// PricingInputs converts the fleet for aggregation.
func (q *Quote) PricingInputs() []pricing.SlotInput {
	inputs := make([]pricing.SlotInput, len(q.Slots))
	for i, s := range q.Slots {
		inputs[i] = s.PricingInput()
	}
	return inputs
}

// Reference builds the human-readable reference for a quote number and
// revision, e.g. "Q-1042.0".
func Reference(number int64, revision int) string {
	return fmt.Sprintf("Q-%d.%d", number, revision)
}

// BumpRevision increments the decimal revision suffix of the reference.
// Unparseable references are left untouched.
func (q *Quote) BumpRevision() {
	var number int64
	var revision int
	if _, err := fmt.Sscanf(q.Reference, "Q-%d.%d", &number, &revision); err != nil {
		return
	}
	q.Reference = Reference(number, revision+1)
}

// Clone returns a deep copy so a snapshot can be handed to pure queries while
// the original keeps mutating.
func (q *Quote) Clone() *Quote {
	cp := *q
	cp.Slots = append([]Slot(nil), q.Slots...)
	cp.Shipping = append([]ShippingEntry(nil), q.Shipping...)
	return &cp
}
