package domain

import "fmt"

// Category groups violation rules. Recidivism is counted per category.
type Category string

const (
	CategorySafety  Category = "safety"
	CategoryHygiene Category = "hygiene"
	CategoryAdmin   Category = "admin"
	CategoryStaff   Category = "staff"
	CategoryGeneral Category = "general"
)

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategorySafety, CategoryHygiene, CategoryAdmin, CategoryStaff, CategoryGeneral:
		return true
	default:
		return false
	}
}

// ViolationRule is a catalog entry describing a sanctionable violation.
// Fine amounts are in cents.
type ViolationRule struct {
	Code           string   `json:"violationCode"`
	Name           string   `json:"violationName"`
	Category       Category `json:"category"`
	LegalReference string   `json:"legalReference"`

	BaseFine int64 `json:"baseFine"`
	MinFine  int64 `json:"minFine"`
	MaxFine  int64 `json:"maxFine"`

	CanTriggerSuspension bool `json:"canTriggerSuspension"`

	// StructureTypes limits the rule to these structure type ids. Empty means all types.
	StructureTypes []string `json:"structureTypes,omitempty"`

	// Applicability is an optional CEL boolean expression over `structure`.
	Applicability string `json:"applicability,omitempty"`

	Enabled bool `json:"enabled"`
}

// MaxFineAmount is the largest fine, in cents, a rule may allow.
const MaxFineAmount int64 = 1_000_000_000_000

// FixedAmount reports whether the rule admits no operator override.
func (r *ViolationRule) FixedAmount() bool {
	return r.MinFine == r.MaxFine
}

// Validate checks the rule's own invariants.
func (r *ViolationRule) Validate() error {
	verr := &ValidationError{}
	if r.Code == "" {
		verr.Add("violationCode", "required")
	}
	if r.Name == "" {
		verr.Add("violationName", "required")
	}
	if !r.Category.IsValid() {
		verr.Add("category", fmt.Sprintf("unknown category %q", r.Category))
	}
	if r.MinFine < 0 {
		verr.Add("minFine", "must not be negative")
	}
	if r.MaxFine > MaxFineAmount {
		verr.Add("maxFine", fmt.Sprintf("must not exceed %d", MaxFineAmount))
	}
	if r.MinFine > r.BaseFine || r.BaseFine > r.MaxFine {
		verr.Add("baseFine", "must satisfy minFine <= baseFine <= maxFine")
	}
	return verr.OrNil()
}

// AppliesToType reports whether the rule's type list admits typeID.
func (r *ViolationRule) AppliesToType(typeID string) bool {
	if len(r.StructureTypes) == 0 {
		return true
	}
	for _, t := range r.StructureTypes {
		if t == typeID {
			return true
		}
	}
	return false
}

// Structure is the registry's view of a regulated facility.
type Structure struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	TypeID             string `json:"typeId"`
	RepresentativeName string `json:"representativeName"`
	RepresentativeAFM  string `json:"representativeAfm"`
}
