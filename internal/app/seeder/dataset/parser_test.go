package dataset

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

func testdataPath(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

// --- Parse ---

func TestParse_Sample(t *testing.T) {
	f, err := Parse(testdataPath(t, "sample.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	bts := f.BloodTypes()
	if len(bts) != 2 || bts[1].Code() != "A+" {
		t.Fatalf("blood types = %+v", bts)
	}
	comps := f.ComponentList()
	if len(comps) != 1 || comps[0].Code != "RBC" || comps[0].ShelfLifeDays != 42 {
		t.Fatalf("components = %+v", comps)
	}
	conds := f.ConditionList()
	if len(conds) != 1 || !conds[0].DonationIneligible {
		t.Fatalf("conditions = %+v", conds)
	}
	if len(f.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(f.Rules))
	}
}

func TestParse_MissingFile(t *testing.T) {
	if _, err := Parse(testdataPath(t, "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := parse(strings.NewReader("blood_types:\n  - {id: 1, abo: O, rh: \"-\", kell: true}\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParse_Empty(t *testing.T) {
	f, err := parse(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Rules) != 0 {
		t.Errorf("rules = %d, want 0", len(f.Rules))
	}
}

// --- ResolveRules ---

var (
	storedTypes = []domain.BloodType{
		{ID: 1, ABOGroup: "O", RhFactor: "-"},
		{ID: 4, ABOGroup: "A", RhFactor: "+"},
	}
	storedComponents = []domain.Component{{ID: 1, Code: "RBC"}}
)

func TestResolveRules(t *testing.T) {
	f, err := Parse(testdataPath(t, "sample.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	rules, err := f.ResolveRules(storedTypes, storedComponents)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.CompatibilityRule{
		{FromBloodTypeID: 4, ToBloodTypeID: 4, ComponentID: 1, IsCompatible: true, PriorityLevel: 1},
		{FromBloodTypeID: 1, ToBloodTypeID: 4, ComponentID: 1, IsCompatible: true, PriorityLevel: 2},
		{FromBloodTypeID: 1, ToBloodTypeID: 1, ComponentID: 1, IsCompatible: true, PriorityLevel: 1},
	}
	if len(rules) != len(want) {
		t.Fatalf("rules = %+v", rules)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Errorf("rules[%d] = %+v, want %+v", i, rules[i], want[i])
		}
	}
}

func TestResolveRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		rule RuleRow
	}{
		{"unknown component", RuleRow{Component: "XYZ", Recipient: "A+", Donors: []DonorRow{{Type: "O-", Priority: 1}}}},
		{"unknown recipient", RuleRow{Component: "RBC", Recipient: "Z+", Donors: []DonorRow{{Type: "O-", Priority: 1}}}},
		{"unknown donor", RuleRow{Component: "RBC", Recipient: "A+", Donors: []DonorRow{{Type: "B-", Priority: 1}}}},
		{"zero priority", RuleRow{Component: "RBC", Recipient: "A+", Donors: []DonorRow{{Type: "O-"}}}},
		{"duplicate donor", RuleRow{Component: "RBC", Recipient: "A+", Donors: []DonorRow{{Type: "O-", Priority: 1}, {Type: "o-", Priority: 2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Rules: []RuleRow{tt.rule}}
			if _, err := f.ResolveRules(storedTypes, storedComponents); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_ShippedDataset(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "config", "reference.yaml")

	f, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	rules, err := f.ResolveRules(f.BloodTypes(), f.ComponentList())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 99 {
		t.Errorf("rules = %d, want 99", len(rules))
	}
	for _, r := range rules {
		if r.FromBloodTypeID == r.ToBloodTypeID && r.PriorityLevel != 1 {
			t.Errorf("identical type %d/%d has priority %d", r.FromBloodTypeID, r.ComponentID, r.PriorityLevel)
		}
	}
}
