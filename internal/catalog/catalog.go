package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the price service knows nothing about the
// requested family or model.
var ErrNotFound = errors.New("catalog: not found")

// Availability tiers for an option on a given model.
type Availability string

const (
	Unavailable Availability = "unavailable"
	Standard    Availability = "standard"
	Optional    Availability = "optional"
	NonStandard Availability = "non_standard"
)

// Option is one configurable extra with its foreign-currency cost and
// per-model availability tier.
type Option struct {
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Cost         float64      `json:"cost"`
	Availability Availability `json:"availability"`
}

// Model is the price-service view of one equipment model.
type Model struct {
	FamilyCode string   `json:"familyCode"`
	ModelCode  string   `json:"modelCode"`
	BaseCost   float64  `json:"baseCost"`
	Options    []Option `json:"options"`
}

// ContainerMapping describes how units of a product family pack into freight
// containers. Note is free text carried through to the generated entry.
type ContainerMapping struct {
	FamilyCode        string  `json:"familyCode"`
	UnitsPerContainer int     `json:"unitsPerContainer"`
	UnitCost          float64 `json:"unitCost"`
	Note              string  `json:"note,omitempty"`
}

// Source is the narrow interface through which the external price/catalog
// service is consumed.
type Source interface {
	Model(ctx context.Context, family, model string) (Model, error)
	// ContainerMapping reports ok=false for families with no known mapping;
	// that is not an error.
	ContainerMapping(ctx context.Context, family string) (ContainerMapping, bool, error)
}
