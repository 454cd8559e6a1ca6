package quoting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/events"
	"github.com/equiplease/quote-api/internal/lock"
	"github.com/equiplease/quote-api/internal/pricing"
	"github.com/equiplease/quote-api/internal/quote"
	"github.com/equiplease/quote-api/internal/shipping"
	"github.com/equiplease/quote-api/internal/store"
)

// ErrNotEditable is returned when the quote's status or the caller's identity
// does not permit editing.
var ErrNotEditable = errors.New("quoting: quote not editable by this user")

// ErrLockHeld is returned when another user holds a fresh edit lock.
var ErrLockHeld = errors.New("quoting: quote locked by another user")

// ErrBadTransition is returned for a status change the workflow does not allow.
var ErrBadTransition = errors.New("quoting: invalid status transition")

// ErrSlotIndex is returned when a slot index falls outside the fixed fleet.
var ErrSlotIndex = errors.New("quoting: slot index out of range")

// ErrConfirmRequired is returned when applying a shipping suggestion would
// replace existing entries and the caller did not confirm.
var ErrConfirmRequired = errors.New("quoting: confirmation required to replace shipping entries")

// ValidationError carries the blocking field issues that stopped a submission.
type ValidationError struct {
	Issues Issues
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quoting: %d blocking validation issue(s)", len(e.Issues.Blocking()))
}

// Service implements the quote lifecycle commands. Edits on an in-memory
// aggregate only move LastModified; the version counter moves when the store
// persists. Status transitions and lock changes persist immediately.
type Service struct {
	Store     store.Store
	Locks     lock.Coordinator
	Advisor   shipping.Advisor
	Events    *events.Bus
	Validator *Validator
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) emit(ctx context.Context, topic string, q *quote.Quote, actorID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, q.ID, actorID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Stringer("quote_id", q.ID).Msg("event fanout incomplete")
	}
}

// Create persists a fresh draft quote owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, customer string) (*quote.Quote, error) {
	number, err := s.Store.NextReferenceNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("quoting: allocate reference: %w", err)
	}
	q := quote.New(uuid.New(), quote.Reference(number, 0), ownerID, s.now())
	q.Customer = customer
	version, err := s.Store.Save(ctx, q, 0, ownerID)
	if err != nil {
		return nil, err
	}
	q.Version = version
	s.emit(ctx, events.TopicQuoteCreated, q, ownerID, map[string]string{"reference": q.Reference})
	return q, nil
}

// Get loads the quote by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*quote.Quote, error) {
	return s.Store.Load(ctx, id)
}

// List returns quotes matching the filter.
func (s *Service) List(ctx context.Context, f store.Filter) ([]*quote.Quote, error) {
	return s.Store.ListByFilter(ctx, f)
}

// EditPolicy maps a workflow status to the lock coordinator's authorization
// policy: drafts and change requests belong to the owner, a quote in review
// additionally admits its approver, every other status is read-only.
func EditPolicy(st quote.Status) lock.Policy {
	switch st {
	case quote.StatusDraft, quote.StatusChangeRequest:
		return lock.PolicyOwner
	case quote.StatusInReview:
		return lock.PolicyOwnerOrApprover
	default:
		return lock.PolicyDeny
	}
}

func lockState(q *quote.Quote) lock.State {
	return lock.State{OwnerID: q.LockedBy, AcquiredAt: q.LockedAt}
}

// CanEdit reports whether userID may currently edit the quote.
func (s *Service) CanEdit(q *quote.Quote, userID string) bool {
	return s.Locks.CanEdit(lockState(q), userID, EditPolicy(q.Status), q.OwnerID, q.ApproverID)
}

func (s *Service) authorizeEdit(q *quote.Quote, userID string) error {
	if s.Locks.HeldByOther(lockState(q), userID) {
		return ErrLockHeld
	}
	if !s.CanEdit(q, userID) {
		return ErrNotEditable
	}
	return nil
}

// UpdateSlot replaces the slot at index on the in-memory aggregate. The caller
// owns persistence (typically a debounced save session).
func (s *Service) UpdateSlot(q *quote.Quote, userID string, index int, slot quote.Slot) error {
	if err := s.authorizeEdit(q, userID); err != nil {
		return err
	}
	if index < 0 || index >= len(q.Slots) {
		return ErrSlotIndex
	}
	q.Slots[index] = slot
	q.LastModified = s.now()
	return nil
}

// ClearSlot resets the slot at index to the inactive default.
func (s *Service) ClearSlot(q *quote.Quote, userID string, index int) error {
	return s.UpdateSlot(q, userID, index, quote.Slot{Empty: true})
}

// TermsPatch carries optional quote-level parameter updates. Nil fields are
// left untouched.
type TermsPatch struct {
	Customer           *string  `json:"customer"`
	FactoryRate        *float64 `json:"factoryRate"`
	CustomerRate       *float64 `json:"customerRate"`
	DefaultDiscountPct *float64 `json:"defaultDiscountPct"`
	DefaultInterestPct *float64 `json:"defaultInterestPct"`
}

// UpdateTerms applies a partial update of quote-level parameters in memory.
func (s *Service) UpdateTerms(q *quote.Quote, userID string, p TermsPatch) error {
	if err := s.authorizeEdit(q, userID); err != nil {
		return err
	}
	if p.Customer != nil {
		q.Customer = *p.Customer
	}
	if p.FactoryRate != nil {
		q.FactoryRate = *p.FactoryRate
	}
	if p.CustomerRate != nil {
		q.CustomerRate = *p.CustomerRate
	}
	if p.DefaultDiscountPct != nil {
		q.DefaultDiscountPct = *p.DefaultDiscountPct
	}
	if p.DefaultInterestPct != nil {
		q.DefaultInterestPct = *p.DefaultInterestPct
	}
	q.LastModified = s.now()
	return nil
}

// AcquireLock takes the edit lock for userID and persists it immediately so
// other sessions see it on their next load.
func (s *Service) AcquireLock(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	q, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEdit(q, userID); err != nil {
		return q, err
	}
	state, ok := s.Locks.Acquire(lockState(q), userID)
	if !ok {
		return q, ErrLockHeld
	}
	q.LockedBy = state.OwnerID
	q.LockedAt = state.AcquiredAt
	version, err := s.Store.Save(ctx, q, q.Version, userID)
	if err != nil {
		return nil, err
	}
	q.Version = version
	s.emit(ctx, events.TopicQuoteLockAcquired, q, userID, nil)
	return q, nil
}

// ReleaseLock clears the lock when held by userID; releasing a lock held by
// someone else is a silent no-op per the coordinator's rules.
func (s *Service) ReleaseLock(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	q, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	released := s.Locks.Release(lockState(q), userID)
	if released == lockState(q) {
		return q, nil
	}
	q.LockedBy = released.OwnerID
	q.LockedAt = released.AcquiredAt
	version, err := s.Store.Save(ctx, q, q.Version, userID)
	if err != nil {
		return nil, err
	}
	q.Version = version
	s.emit(ctx, events.TopicQuoteLockReleased, q, userID, nil)
	return q, nil
}

// Submit moves a draft or change request into review, naming the approver.
// Blocking validation issues stop the transition.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, userID, approverID string) (*quote.Quote, error) {
	return s.transition(ctx, id, userID, func(q *quote.Quote) error {
		if q.Status != quote.StatusDraft && q.Status != quote.StatusChangeRequest {
			return ErrBadTransition
		}
		if q.OwnerID != userID {
			return ErrNotEditable
		}
		if issues := s.validate(q); issues.HasBlocking() {
			return &ValidationError{Issues: issues}
		}
		q.Status = quote.StatusInReview
		q.ApproverID = approverID
		return nil
	})
}

// Approve marks a quote in review as approved. Only the designated approver
// may do so.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	return s.transition(ctx, id, userID, func(q *quote.Quote) error {
		if q.Status != quote.StatusInReview {
			return ErrBadTransition
		}
		if q.ApproverID == "" || q.ApproverID != userID {
			return ErrNotEditable
		}
		q.Status = quote.StatusApproved
		return nil
	})
}

// Reject marks a quote in review as rejected. Only the designated approver
// may do so.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	return s.transition(ctx, id, userID, func(q *quote.Quote) error {
		if q.Status != quote.StatusInReview {
			return ErrBadTransition
		}
		if q.ApproverID == "" || q.ApproverID != userID {
			return ErrNotEditable
		}
		q.Status = quote.StatusRejected
		return nil
	})
}

// Reopen turns an approved or rejected quote into a change request, bumping
// the revision suffix of its reference.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	return s.transition(ctx, id, userID, func(q *quote.Quote) error {
		if q.Status != quote.StatusApproved && q.Status != quote.StatusRejected {
			return ErrBadTransition
		}
		if q.OwnerID != userID {
			return ErrNotEditable
		}
		q.Status = quote.StatusChangeRequest
		q.BumpRevision()
		return nil
	})
}

// Close ends the quote's lifecycle.
func (s *Service) Close(ctx context.Context, id uuid.UUID, userID string) (*quote.Quote, error) {
	return s.transition(ctx, id, userID, func(q *quote.Quote) error {
		if q.Status == quote.StatusClosed {
			return ErrBadTransition
		}
		if q.OwnerID != userID {
			return ErrNotEditable
		}
		q.Status = quote.StatusClosed
		return nil
	})
}

// transition loads the quote, applies the mutation, and persists immediately.
// A fresh foreign lock blocks any transition.
func (s *Service) transition(ctx context.Context, id uuid.UUID, userID string, apply func(q *quote.Quote) error) (*quote.Quote, error) {
	q, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Locks.HeldByOther(lockState(q), userID) {
		return q, ErrLockHeld
	}
	from := q.Status
	if err := apply(q); err != nil {
		return q, err
	}
	q.LastModified = s.now()
	version, err := s.Store.Save(ctx, q, q.Version, userID)
	if err != nil {
		return nil, err
	}
	q.Version = version
	s.emit(ctx, events.TopicQuoteStatusChanged, q, userID, map[string]string{
		"from":      string(from),
		"to":        string(q.Status),
		"reference": q.Reference,
	})
	s.Logger.Info().
		Stringer("quote_id", q.ID).
		Str("from", string(from)).
		Str("to", string(q.Status)).
		Str("actor", userID).
		Msg("quote status changed")
	return q, nil
}

// SuggestShipping previews container suggestions for the current fleet
// without touching the aggregate.
func (s *Service) SuggestShipping(ctx context.Context, q *quote.Quote) ([]quote.ShippingEntry, error) {
	return s.Advisor.Suggest(ctx, q)
}

// ApplyShipping replaces the shipping entries on the aggregate wholesale with
// a fresh suggestion. Manual entries are discarded too, so whenever any entry
// exists the caller must pass confirm; the replacement never happens silently.
func (s *Service) ApplyShipping(ctx context.Context, q *quote.Quote, userID string, confirm bool) error {
	if err := s.authorizeEdit(q, userID); err != nil {
		return err
	}
	if len(q.Shipping) > 0 && !confirm {
		return ErrConfirmRequired
	}
	entries, err := s.Advisor.Suggest(ctx, q)
	if err != nil {
		return fmt.Errorf("quoting: shipping suggestion: %w", err)
	}
	q.Shipping = entries
	q.LastModified = s.now()
	return nil
}

func (s *Service) validate(q *quote.Quote) Issues {
	if s.Validator == nil {
		return nil
	}
	return s.Validator.Validate(q)
}

// SlotPricing pairs a fleet position with its derived breakdown. Inactive
// slots carry a zero breakdown.
type SlotPricing struct {
	Index     int               `json:"index"`
	Active    bool              `json:"active"`
	Breakdown pricing.Breakdown `json:"breakdown"`
}

// Derived is the full read model computed from a quote: per-slot breakdowns,
// fleet totals, shipping roll-up, and staleness of stored suggestions.
type Derived struct {
	Slots         []SlotPricing  `json:"slots"`
	Totals        pricing.Totals `json:"totals"`
	ShippingTotal float64        `json:"shippingTotal"`
	ShippingStale bool           `json:"shippingStale"`
	Issues        Issues         `json:"issues,omitempty"`
}

// Derive computes the read model. It is pure with respect to the aggregate.
func (s *Service) Derive(q *quote.Quote) Derived {
	d := Derived{Slots: make([]SlotPricing, len(q.Slots))}
	for i, sl := range q.Slots {
		b, ok := pricing.PriceSlot(sl.PricingInput(), q.FactoryRate)
		d.Slots[i] = SlotPricing{Index: i, Active: ok, Breakdown: b}
	}
	d.Totals = pricing.Aggregate(q.PricingInputs(), q.FactoryRate, q.MonthlyFinanceRate())
	for _, e := range q.Shipping {
		d.ShippingTotal += e.TotalCost
	}
	d.ShippingStale = shipping.Stale(q.Shipping, q.Slots, q.FactoryRate)
	d.Issues = s.validate(q)
	return d
}
