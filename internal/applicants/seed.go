package applicants

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zulandar/admitdesk/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedFile is the YAML fixture format for `desk db seed`.
type SeedFile struct {
	Applicants []SeedApplicant `yaml:"applicants"`
}

// SeedApplicant is one fixture row. DaysSinceEngagement is converted to a
// last-engaged timestamp relative to the seeding time.
type SeedApplicant struct {
	ID                     string   `yaml:"id"`
	Name                   string   `yaml:"name"`
	Email                  string   `yaml:"email"`
	Phone                  string   `yaml:"phone"`
	Board                  string   `yaml:"board"`
	Owner                  string   `yaml:"owner"`
	Stage                  string   `yaml:"stage"`
	ConversionProbability  *float64 `yaml:"conversion_probability"`
	ProgressionProbability *float64 `yaml:"progression_probability"`
	LeadScore              *float64 `yaml:"lead_score"`
	EngagementScore        *float64 `yaml:"engagement_score"`
	ActivityCount          *int     `yaml:"activity_count"`
	DaysSinceEngagement    *float64 `yaml:"days_since_engagement"`
	UrgencyTags            []string `yaml:"urgency_tags"`
}

// ParseSeed decodes a YAML fixture.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("applicants: parse seed: %w", err)
	}
	for i, a := range f.Applicants {
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("applicants: parse seed: applicants[%d]: id and name are required", i)
		}
	}
	return &f, nil
}

// SeedPath loads a fixture file and upserts its applicants.
func SeedPath(ctx context.Context, db *gorm.DB, path string, now time.Time) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("applicants: open seed: %w", err)
	}
	defer fh.Close()
	f, err := ParseSeed(fh)
	if err != nil {
		return 0, err
	}
	return Seed(ctx, db, f, now)
}

// Seed upserts fixture applicants by ID.
func Seed(ctx context.Context, db *gorm.DB, f *SeedFile, now time.Time) (int, error) {
	if f == nil || len(f.Applicants) == 0 {
		return 0, nil
	}
	rows := make([]models.Applicant, 0, len(f.Applicants))
	for _, a := range f.Applicants {
		tags, err := json.Marshal(a.UrgencyTags)
		if err != nil {
			return 0, fmt.Errorf("applicants: seed %s: %w", a.ID, err)
		}
		if a.UrgencyTags == nil {
			tags = []byte("[]")
		}
		row := models.Applicant{
			ID:                     a.ID,
			Name:                   a.Name,
			Email:                  a.Email,
			Phone:                  a.Phone,
			Board:                  a.Board,
			OwnerUserID:            a.Owner,
			Stage:                  a.Stage,
			ConversionProbability:  a.ConversionProbability,
			ProgressionProbability: a.ProgressionProbability,
			LeadScore:              a.LeadScore,
			EngagementScore:        a.EngagementScore,
			ActivityCount:          a.ActivityCount,
			UrgencyTags:            string(tags),
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if a.DaysSinceEngagement != nil {
			t := now.Add(-time.Duration(*a.DaysSinceEngagement * float64(24*time.Hour)))
			row.LastEngagedAt = &t
		}
		rows = append(rows, row)
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("applicants: seed: %w", err)
	}
	return len(rows), nil
}
