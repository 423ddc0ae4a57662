package applicants

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/admitdesk/internal/db"
	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/scoring"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	gdb, err := db.OpenTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	n, err := SeedPath(context.Background(), gdb, "testdata/applicants.yaml", testNow)
	if err != nil {
		t.Fatalf("SeedPath: %v", err)
	}
	if n != 4 {
		t.Fatalf("seeded %d, want 4", n)
	}
	s, err := NewStore(gdb, func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, gdb
}

func TestNewStore_NilDB(t *testing.T) {
	if _, err := NewStore(nil, nil); err == nil {
		t.Fatal("expected error for nil DB")
	}
}

func TestCandidates_All(t *testing.T) {
	s, _ := seededStore(t)
	cands, err := s.Candidates(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 4 {
		t.Fatalf("len = %d, want 4", len(cands))
	}

	priya := cands[0]
	if priya.ID != "A-17" || priya.Stage != scoring.StageOfferMade {
		t.Errorf("priya = %+v", priya)
	}
	if priya.DaysSinceEngagement == nil || *priya.DaysSinceEngagement != 2 {
		t.Errorf("DaysSinceEngagement = %v, want 2", priya.DaysSinceEngagement)
	}
	if !priya.HasEmail || !priya.HasPhone {
		t.Error("contact coverage not derived")
	}
	if len(priya.UrgencyTags) != 1 || priya.UrgencyTags[0] != "offer_expires_today" {
		t.Errorf("UrgencyTags = %v", priya.UrgencyTags)
	}

	dana := cands[2]
	if dana.ConversionProbability != nil || dana.DaysSinceEngagement != nil {
		t.Errorf("missing fields should stay nil: %+v", dana)
	}
	if dana.ProgressionProbability == nil || *dana.ProgressionProbability != 0.6 {
		t.Errorf("ProgressionProbability = %v", dana.ProgressionProbability)
	}
}

func TestCandidates_Filters(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()
	tests := []struct {
		name string
		f    Filters
		want string
	}{
		{"board", Filters{Board: "clearing"}, "A-88"},
		{"stage", Filters{Stage: "inquiry"}, "A-42"},
		{"owner", Filters{OwnerUserID: "bob"}, "A-63,A-88"},
		{"ids", Filters{IDs: []string{"A-88", "A-17"}}, "A-17,A-88"},
		{"limit", Filters{Limit: 2}, "A-17,A-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := s.Candidates(ctx, tt.f)
			if err != nil {
				t.Fatalf("Candidates: %v", err)
			}
			var ids []string
			for _, c := range cands {
				ids = append(ids, c.ID)
			}
			if got := strings.Join(ids, ","); got != tt.want {
				t.Errorf("ids = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSeed_Upserts(t *testing.T) {
	s, gdb := seededStore(t)
	p := 0.95
	f := &SeedFile{Applicants: []SeedApplicant{{ID: "A-17", Name: "Priya Shah", Stage: "deposit_paid", ConversionProbability: &p}}}
	if _, err := Seed(context.Background(), gdb, f, testNow); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	var count int64
	gdb.Model(&models.Applicant{}).Count(&count)
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
	a, err := s.Get(context.Background(), "A-17")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Stage != "deposit_paid" || a.ConversionProbability == nil || *a.ConversionProbability != 0.95 {
		t.Errorf("applicant not updated: %+v", a)
	}
}

func TestParseSeed_Errors(t *testing.T) {
	tests := map[string]string{
		"missing name":  "applicants:\n  - id: A-1\n",
		"unknown field": "applicants:\n  - id: A-1\n    name: X\n    shoe_size: 9\n",
		"bad yaml":      "applicants: [",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSeed(strings.NewReader(in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToCandidate_FutureEngagementClamped(t *testing.T) {
	future := testNow.Add(time.Hour)
	c := ToCandidate(models.Applicant{ID: "x", LastEngagedAt: &future, UrgencyTags: "not json"}, testNow)
	if c.DaysSinceEngagement == nil || *c.DaysSinceEngagement != 0 {
		t.Errorf("DaysSinceEngagement = %v, want 0", c.DaysSinceEngagement)
	}
	if c.UrgencyTags != nil {
		t.Errorf("malformed tags = %v, want nil", c.UrgencyTags)
	}
	if c.Stage != scoring.StageUnknown {
		t.Errorf("Stage = %q, want unknown", c.Stage)
	}
}

func TestStatic(t *testing.T) {
	s := Static{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got, _ := s.Candidates(context.Background(), Filters{IDs: []string{"c", "a"}})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Static IDs filter = %+v", got)
	}
	got, _ = s.Candidates(context.Background(), Filters{Limit: 1})
	if len(got) != 1 {
		t.Errorf("Static limit = %d", len(got))
	}
}

func TestFilters_Map(t *testing.T) {
	m := Filters{Board: "admissions", OwnerUserID: "alice", Limit: 3}.Map()
	if len(m) != 2 || m["board"] != "admissions" || m["owner"] != "alice" {
		t.Errorf("Map = %v", m)
	}
}
