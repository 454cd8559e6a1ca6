package shipping

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/equiplease/quote-api/internal/catalog"
	"github.com/equiplease/quote-api/internal/quote"
)

// MappingSource provides container packing data per product family.
type MappingSource interface {
	ContainerMapping(ctx context.Context, family string) (catalog.ContainerMapping, bool, error)
}

// Advisor derives freight-container suggestions from the active fleet. The
// heuristic is deterministic: same fleet and rate, same suggestion.
type Advisor struct {
	Mappings MappingSource
}

// familyQuantities groups active slots by family code, summing quantities.
func familyQuantities(slots []quote.Slot) map[string]int {
	grouped := make(map[string]int)
	for _, s := range slots {
		if s.Empty || s.Quantity <= 0 || strings.TrimSpace(s.FamilyCode) == "" {
			continue
		}
		grouped[s.FamilyCode] += s.Quantity
	}
	return grouped
}

// Signature canonically encodes the (family, quantity) pairs of the active
// fleet together with the exchange rate the costs were computed at. Two
// signatures are equal iff the grouped fleet and rate match exactly, so a
// caller can compare a stored suggestion's signature against the current
// fleet to detect staleness. Pair order does not matter.
func Signature(slots []quote.Slot, rate float64) string {
	grouped := familyQuantities(slots)
	families := make([]string, 0, len(grouped))
	for family := range grouped {
		families = append(families, family)
	}
	sort.Strings(families)

	var b strings.Builder
	for _, family := range families {
		fmt.Fprintf(&b, "%s=%d;", family, grouped[family])
	}
	fmt.Fprintf(&b, "rate=%g", rate)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Suggest proposes one container entry per active family. Families without a
// known mapping produce a flagged zero-cost placeholder so the caller can ask
// the logistics desk instead of silently dropping them. Containers needed is
// the ceiling of units over units-per-container.
func (a Advisor) Suggest(ctx context.Context, q *quote.Quote) ([]quote.ShippingEntry, error) {
	if a.Mappings == nil {
		return nil, fmt.Errorf("shipping: mapping source not configured")
	}
	grouped := familyQuantities(q.Slots)
	families := make([]string, 0, len(grouped))
	for family := range grouped {
		families = append(families, family)
	}
	sort.Strings(families)

	sig := Signature(q.Slots, q.FactoryRate)
	entries := make([]quote.ShippingEntry, 0, len(families))
	for _, family := range families {
		units := grouped[family]
		mapping, ok, err := a.Mappings.ContainerMapping(ctx, family)
		if err != nil {
			return nil, err
		}
		if !ok || mapping.UnitsPerContainer <= 0 {
			entries = append(entries, quote.ShippingEntry{
				Description: fmt.Sprintf("No container mapping for %s (%d units) - confirm with logistics", family, units),
				FamilyCode:  family,
				Suggested:   true,
				Unmapped:    true,
				Signature:   sig,
			})
			continue
		}
		containers := (units + mapping.UnitsPerContainer - 1) / mapping.UnitsPerContainer
		unitCost := mapping.UnitCost * q.FactoryRate
		description := fmt.Sprintf("%d x container for %s (%d units)", containers, family, units)
		if note := strings.TrimSpace(mapping.Note); note != "" {
			description += " - " + note
		}
		entries = append(entries, quote.ShippingEntry{
			Description: description,
			FamilyCode:  family,
			Containers:  containers,
			UnitCost:    unitCost,
			TotalCost:   unitCost * float64(containers),
			Suggested:   true,
			Signature:   sig,
		})
	}
	return entries, nil
}

// Stale reports whether stored suggested entries were computed from a fleet
// state other than the current one. Manual entries never go stale.
func Stale(entries []quote.ShippingEntry, slots []quote.Slot, rate float64) bool {
	current := Signature(slots, rate)
	for _, e := range entries {
		if e.Suggested && e.Signature != current {
			return true
		}
	}
	return false
}
