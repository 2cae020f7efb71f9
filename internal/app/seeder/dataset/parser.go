// Package dataset parses the reference data YAML file into domain structs.
// Pure functions: file path in, domain structs out. No database dependencies.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// File is the parsed reference data file.
type File struct {
	BloodTypeRows []BloodTypeRow `yaml:"blood_types"`
	Components    []ComponentRow `yaml:"components"`
	Conditions    []ConditionRow `yaml:"conditions"`
	Rules         []RuleRow      `yaml:"rules"`
}

// BloodTypeRow is one blood type, e.g. {id: 1, abo: O, rh: "-"}.
type BloodTypeRow struct {
	ID  int    `yaml:"id"`
	ABO string `yaml:"abo"`
	Rh  string `yaml:"rh"`
}

// ComponentRow is one blood product kind.
type ComponentRow struct {
	ID            int    `yaml:"id"`
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	RecoveryDays  int    `yaml:"recovery_days"`
	ShelfLifeDays int    `yaml:"shelf_life_days"`
}

// ConditionRow is one donor health condition.
type ConditionRow struct {
	ID                 int    `yaml:"id"`
	Code               string `yaml:"code"`
	Name               string `yaml:"name"`
	DonationIneligible bool   `yaml:"donation_ineligible"`
}

// RuleRow lists the donor types acceptable for one recipient type and
// component, by blood type code ("AB+") and component code ("RBC").
type RuleRow struct {
	Component string     `yaml:"component"`
	Recipient string     `yaml:"recipient"`
	Donors    []DonorRow `yaml:"donors"`
}

// DonorRow is one acceptable donor type. Lower priority is preferred.
type DonorRow struct {
	Type     string `yaml:"type"`
	Priority int    `yaml:"priority"`
}

// Parse reads and decodes the dataset at path.
func Parse(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &file, nil
}

// BloodTypes converts the blood type rows.
func (f *File) BloodTypes() []domain.BloodType {
	out := make([]domain.BloodType, len(f.BloodTypeRows))
	for i, r := range f.BloodTypeRows {
		out[i] = domain.BloodType{ID: r.ID, ABOGroup: strings.ToUpper(r.ABO), RhFactor: r.Rh}
	}
	return out
}

// ComponentList converts the component rows.
func (f *File) ComponentList() []domain.Component {
	out := make([]domain.Component, len(f.Components))
	for i, r := range f.Components {
		out[i] = domain.Component{
			ID:            r.ID,
			Code:          strings.ToUpper(r.Code),
			Name:          r.Name,
			RecoveryDays:  r.RecoveryDays,
			ShelfLifeDays: r.ShelfLifeDays,
		}
	}
	return out
}

// ConditionList converts the condition rows.
func (f *File) ConditionList() []domain.HealthCondition {
	out := make([]domain.HealthCondition, len(f.Conditions))
	for i, r := range f.Conditions {
		out[i] = domain.HealthCondition{
			ID:                 r.ID,
			Code:               strings.ToUpper(r.Code),
			Name:               r.Name,
			DonationIneligible: r.DonationIneligible,
		}
	}
	return out
}

// ResolveRules turns the rule rows into compatibility rules, resolving codes
// against the stored blood types and components. Unknown codes, non-positive
// priorities and duplicate donor entries are errors.
func (f *File) ResolveRules(bloodTypes []domain.BloodType, components []domain.Component) ([]domain.CompatibilityRule, error) {
	typeIDs := make(map[string]int, len(bloodTypes))
	for _, bt := range bloodTypes {
		typeIDs[strings.ToUpper(bt.Code())] = bt.ID
	}
	compIDs := make(map[string]int, len(components))
	for _, c := range components {
		compIDs[strings.ToUpper(c.Code)] = c.ID
	}

	type key struct{ from, to, comp int }
	seen := make(map[key]bool)

	var rules []domain.CompatibilityRule
	for i, row := range f.Rules {
		compID, ok := compIDs[strings.ToUpper(row.Component)]
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown component %q", i, row.Component)
		}
		toID, ok := typeIDs[strings.ToUpper(row.Recipient)]
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown recipient type %q", i, row.Recipient)
		}
		for _, d := range row.Donors {
			fromID, ok := typeIDs[strings.ToUpper(d.Type)]
			if !ok {
				return nil, fmt.Errorf("rule %d: unknown donor type %q", i, d.Type)
			}
			if d.Priority <= 0 {
				return nil, fmt.Errorf("rule %d: donor %s: priority must be positive", i, d.Type)
			}
			k := key{fromID, toID, compID}
			if seen[k] {
				return nil, fmt.Errorf("rule %d: duplicate donor %s for %s %s", i, d.Type, row.Recipient, row.Component)
			}
			seen[k] = true
			rules = append(rules, domain.CompatibilityRule{
				FromBloodTypeID: fromID,
				ToBloodTypeID:   toID,
				ComponentID:     compID,
				IsCompatible:    true,
				PriorityLevel:   d.Priority,
			})
		}
	}
	return rules, nil
}
