package model

import (
	"fmt"
	"sort"
	"strings"
)

// ProgramType is the clinical category of a protocol.
type ProgramType string

const (
	ProgramHRT        ProgramType = "hrt"
	ProgramWeightLoss ProgramType = "weight_loss"
	ProgramPeptide    ProgramType = "peptide"
	ProgramVitamin    ProgramType = "vitamin"
	ProgramIVTherapy  ProgramType = "iv_therapy"
	ProgramHBOT       ProgramType = "hbot"
	ProgramRedLight   ProgramType = "red_light"
	ProgramOther      ProgramType = "other"
)

// AllProgramTypes lists every valid program type in display order.
var AllProgramTypes = []ProgramType{
	ProgramHRT,
	ProgramWeightLoss,
	ProgramPeptide,
	ProgramVitamin,
	ProgramIVTherapy,
	ProgramHBOT,
	ProgramRedLight,
	ProgramOther,
}

// programAliases holds every accepted spelling. Lookups are exact after
// lower-casing and trimming; nothing is substring matched.
var programAliases = map[string]ProgramType{
	"hrt":             ProgramHRT,
	"hormone":         ProgramHRT,
	"hormone_therapy": ProgramHRT,
	"testosterone":    ProgramHRT,
	"trt":             ProgramHRT,
	"weight_loss":     ProgramWeightLoss,
	"weight-loss":     ProgramWeightLoss,
	"weightloss":      ProgramWeightLoss,
	"weight loss":     ProgramWeightLoss,
	"peptide":         ProgramPeptide,
	"peptides":        ProgramPeptide,
	"vitamin":         ProgramVitamin,
	"vitamins":        ProgramVitamin,
	"iv_therapy":      ProgramIVTherapy,
	"iv":              ProgramIVTherapy,
	"hbot":            ProgramHBOT,
	"red_light":       ProgramRedLight,
	"rlt":             ProgramRedLight,
	"other":           ProgramOther,
}

// ParseProgramType resolves a program type name or one of its aliases.
func ParseProgramType(s string) (ProgramType, error) {
	if pt, ok := programAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return pt, nil
	}
	return "", fmt.Errorf("unknown program type %q", s)
}

func (p ProgramType) Valid() bool {
	for _, pt := range AllProgramTypes {
		if p == pt {
			return true
		}
	}
	return false
}

// ExpiresByDate reports whether the sweeper may complete protocols of this
// type once their end date passes. Weight loss and hormone therapy end on
// session exhaustion or clinical judgement.
func (p ProgramType) ExpiresByDate() bool {
	return p != ProgramWeightLoss && p != ProgramHRT
}

// RequiresFollowUpLabs reports whether an 8-week lab re-test is scheduled.
func (p ProgramType) RequiresFollowUpLabs() bool {
	return p == ProgramHRT || p == ProgramWeightLoss
}

func (p ProgramType) Label() string {
	switch p {
	case ProgramHRT:
		return "HRT"
	case ProgramWeightLoss:
		return "Weight Loss"
	case ProgramPeptide:
		return "Peptide"
	case ProgramVitamin:
		return "Vitamin"
	case ProgramIVTherapy:
		return "IV Therapy"
	case ProgramHBOT:
		return "HBOT"
	case ProgramRedLight:
		return "Red Light"
	default:
		return "Other"
	}
}

// NonExpiringProgramTypes is the default sweep exclusion list.
func NonExpiringProgramTypes() []ProgramType {
	var out []ProgramType
	for _, pt := range AllProgramTypes {
		if !pt.ExpiresByDate() {
			out = append(out, pt)
		}
	}
	return out
}

// serviceCategories maps the service categories used by the purchase and
// scheduling systems onto program types.
var serviceCategories = map[string]ProgramType{
	"testosterone": ProgramHRT,
	"hrt":          ProgramHRT,
	"weight_loss":  ProgramWeightLoss,
	"vitamin":      ProgramVitamin,
	"peptide":      ProgramPeptide,
	"iv_therapy":   ProgramIVTherapy,
	"hbot":         ProgramHBOT,
	"red_light":    ProgramRedLight,
}

// ProgramTypeForCategory maps a service category onto its program type.
func ProgramTypeForCategory(category string) (ProgramType, bool) {
	pt, ok := serviceCategories[strings.ToLower(strings.TrimSpace(category))]
	return pt, ok
}

// ServiceCategories returns the known category names.
func ServiceCategories() []string {
	out := make([]string, 0, len(serviceCategories))
	for k := range serviceCategories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DeliveryMethod distinguishes session-bounded from date-bounded protocols.
type DeliveryMethod string

const (
	DeliveryInClinic DeliveryMethod = "in_clinic"
	DeliveryTakeHome DeliveryMethod = "take_home"
)

func (d DeliveryMethod) Valid() bool {
	return d == DeliveryInClinic || d == DeliveryTakeHome
}
