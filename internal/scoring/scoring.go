// Package scoring ranks applicants for follow-up using a multi-factor,
// time-decaying priority formula. It is pure: no I/O and no hidden state, so
// the same candidate snapshot always yields the same Score.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Default tuning values.
const (
	DefaultImpactWeight      = 0.4
	DefaultUrgencyWeight     = 0.35
	DefaultFreshnessWeight   = 0.25
	DefaultConversionFloor   = 0.5
	DefaultNeutralImpact     = 0.5
	DefaultNeutralConversion = 0.5
	DefaultDecayDays         = 14.0
	DefaultMissingDays       = 999.0
	DefaultMultiplier        = 1.0
	RecentEngagementDays     = 7.0

	// DefaultPriorityMax is the largest priority reachable with default
	// weights: a weighted sum of 1 times the (0.5 + 1) multiplier.
	DefaultPriorityMax = 1.5

	minConfidence = 0.1
	maxConfidence = 0.9
)

// DefaultUrgencyMultipliers is the static multiplier table for urgency tags.
func DefaultUrgencyMultipliers() map[string]float64 {
	return map[string]float64{
		"offer_expires_today": 5.0,
		"deadline_this_week":  3.0,
		"unresponsive_14d":    2.5,
		"missing_documents":   2.0,
		"high_value":          1.5,
	}
}

// Candidate is the feature snapshot of one applicant considered for
// intervention. Pointer fields are nil when the upstream provider did not
// supply them.
type Candidate struct {
	ID                     string
	Name                   string
	Stage                  Stage
	UrgencyTags            []string
	DaysSinceEngagement    *float64
	ConversionProbability  *float64
	ProgressionProbability *float64
	LeadScore              *float64
	EngagementScore        *float64
	ActivityCount          *int
	HasEmail               bool
	HasPhone               bool
}

// Score is the derived ranking value for a candidate in one ranking pass.
type Score struct {
	Impact     float64
	Urgency    float64
	Freshness  float64
	Priority   float64
	Confidence float64
	ActionType string
	Reasons    []string
}

// Ranked pairs a candidate with its score.
type Ranked struct {
	Candidate Candidate
	Score     Score
}

// Weights holds the tunable parameters of the formula. Zero fields fall back
// to the defaults above.
type Weights struct {
	Impact             float64
	Urgency            float64
	Freshness          float64
	ConversionFloor    float64
	NeutralImpact      float64
	NeutralConversion  float64
	DecayDays          float64
	MissingDays        float64
	UrgencyMultipliers map[string]float64
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Impact:             DefaultImpactWeight,
		Urgency:            DefaultUrgencyWeight,
		Freshness:          DefaultFreshnessWeight,
		ConversionFloor:    DefaultConversionFloor,
		NeutralImpact:      DefaultNeutralImpact,
		NeutralConversion:  DefaultNeutralConversion,
		DecayDays:          DefaultDecayDays,
		MissingDays:        DefaultMissingDays,
		UrgencyMultipliers: DefaultUrgencyMultipliers(),
	}
}

// Scorer computes scores with a fixed set of weights.
type Scorer struct {
	w       Weights
	maxMult float64
}

// New creates a Scorer, filling unset weights with defaults.
func New(w Weights) *Scorer {
	d := DefaultWeights()
	if w.Impact <= 0 {
		w.Impact = d.Impact
	}
	if w.Urgency <= 0 {
		w.Urgency = d.Urgency
	}
	if w.Freshness <= 0 {
		w.Freshness = d.Freshness
	}
	if w.ConversionFloor <= 0 {
		w.ConversionFloor = d.ConversionFloor
	}
	if w.NeutralImpact <= 0 {
		w.NeutralImpact = d.NeutralImpact
	}
	if w.NeutralConversion <= 0 {
		w.NeutralConversion = d.NeutralConversion
	}
	if w.DecayDays <= 0 {
		w.DecayDays = d.DecayDays
	}
	if w.MissingDays <= 0 {
		w.MissingDays = d.MissingDays
	}
	table := make(map[string]float64, len(d.UrgencyMultipliers))
	src := w.UrgencyMultipliers
	if len(src) == 0 {
		src = d.UrgencyMultipliers
	}
	maxMult := DefaultMultiplier
	for tag, m := range src {
		if m <= 0 {
			continue
		}
		table[normalizeKey(tag)] = m
		if m > maxMult {
			maxMult = m
		}
	}
	w.UrgencyMultipliers = table
	return &Scorer{w: w, maxMult: maxMult}
}

// PriorityMax is the upper bound of Score.Priority for this Scorer.
func (s *Scorer) PriorityMax() float64 {
	return (s.w.Impact + s.w.Urgency + s.w.Freshness) * (s.w.ConversionFloor + 1)
}

// Normalize maps a priority onto [0,1] relative to PriorityMax.
func (s *Scorer) Normalize(priority float64) float64 {
	max := s.PriorityMax()
	if max <= 0 {
		return 0
	}
	return clamp(priority/max, 0, 1)
}

// Score computes the PriorityScore of a single candidate.
func (s *Scorer) Score(c Candidate) Score {
	days := s.days(c)

	impact := s.w.NeutralImpact
	switch {
	case validProb(c.ProgressionProbability):
		impact = *c.ProgressionProbability
	case validProb(c.ConversionProbability):
		impact = *c.ConversionProbability
	}
	impact = clamp(impact, 0, 1)

	conversion := s.w.NeutralConversion
	if validProb(c.ConversionProbability) {
		conversion = *c.ConversionProbability
	}
	conversion = clamp(conversion, 0, 1)

	urgency := s.multiplier(c.UrgencyTags) / s.maxMult
	freshness := Freshness(days, s.w.DecayDays)

	priority := s.w.Impact*impact + s.w.Urgency*urgency + s.w.Freshness*freshness
	priority *= s.w.ConversionFloor + conversion

	return Score{
		Impact:     impact,
		Urgency:    urgency,
		Freshness:  freshness,
		Priority:   priority,
		Confidence: Confidence(c),
		ActionType: stageOrUnknown(c.Stage).ActionType(),
		Reasons:    s.reasons(c, days),
	}
}

// Rank scores every candidate and returns them best first. Ties on priority
// go to the more recently engaged candidate, then the more urgent one, then
// the lower ID so the order is total.
func (s *Scorer) Rank(cands []Candidate) []Ranked {
	type entry struct {
		r    Ranked
		days float64
	}
	entries := make([]entry, len(cands))
	for i, c := range cands {
		entries[i] = entry{r: Ranked{Candidate: c, Score: s.Score(c)}, days: s.days(c)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return rankedLess(entries[i].r, entries[j].r, entries[i].days, entries[j].days)
	})
	out := make([]Ranked, len(entries))
	for i, e := range entries {
		out[i] = e.r
	}
	return out
}

func rankedLess(a, b Ranked, daysA, daysB float64) bool {
	if a.Score.Priority != b.Score.Priority {
		return a.Score.Priority > b.Score.Priority
	}
	if daysA != daysB {
		return daysA < daysB
	}
	if a.Score.Urgency != b.Score.Urgency {
		return a.Score.Urgency > b.Score.Urgency
	}
	return a.Candidate.ID < b.Candidate.ID
}

// Freshness is the exponential engagement decay e^(-days/decay): 1 for
// engagement today, approaching 0 with long silence.
func Freshness(days, decay float64) float64 {
	if decay <= 0 {
		decay = DefaultDecayDays
	}
	if days < 0 || math.IsNaN(days) {
		days = 0
	}
	return 1 - (1 - math.Exp(-days/decay))
}

// Confidence estimates how much the score can be trusted from data coverage
// and engagement recency. The result never leaves [0.1, 0.9].
func Confidence(c Candidate) float64 {
	present := 0
	if c.HasEmail {
		present++
	}
	if c.HasPhone {
		present++
	}
	if c.LeadScore != nil {
		present++
	}
	if c.EngagementScore != nil {
		present++
	}
	if c.ActivityCount != nil {
		present++
	}
	coverage := float64(present) / 5

	bonus := 0.0
	if c.DaysSinceEngagement != nil && !math.IsNaN(*c.DaysSinceEngagement) && *c.DaysSinceEngagement <= RecentEngagementDays {
		bonus = 0.1
	}
	return clamp(0.4+0.4*coverage+bonus, minConfidence, maxConfidence)
}

// DaysSince returns the engagement age used for scoring, substituting the
// missing-days sentinel and clamping negatives to zero.
func (s *Scorer) DaysSince(c Candidate) float64 {
	return s.days(c)
}

func (s *Scorer) days(c Candidate) float64 {
	if c.DaysSinceEngagement == nil || math.IsNaN(*c.DaysSinceEngagement) {
		return s.w.MissingDays
	}
	if *c.DaysSinceEngagement < 0 {
		return 0
	}
	return *c.DaysSinceEngagement
}

func (s *Scorer) multiplier(tags []string) float64 {
	best := DefaultMultiplier
	for _, t := range tags {
		if m, ok := s.w.UrgencyMultipliers[normalizeKey(t)]; ok && m > best {
			best = m
		}
	}
	return best
}

func (s *Scorer) reasons(c Candidate, days float64) []string {
	type tagged struct {
		tag  string
		mult float64
	}
	var matched []tagged
	seen := make(map[string]bool)
	for _, t := range c.UrgencyTags {
		key := normalizeKey(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		if m, ok := s.w.UrgencyMultipliers[key]; ok {
			matched = append(matched, tagged{key, m})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].mult > matched[j].mult })

	var out []string
	for _, m := range matched {
		out = append(out, strings.ReplaceAll(m.tag, "_", " "))
	}

	switch {
	case c.DaysSinceEngagement == nil:
		out = append(out, "no recorded engagement")
	case days >= s.w.DecayDays:
		out = append(out, fmt.Sprintf("no engagement for %d days", int(days)))
	case days <= 1:
		out = append(out, "engaged in the last day")
	}

	if validProb(c.ConversionProbability) {
		out = append(out, fmt.Sprintf("conversion probability %d%%", int(math.Round(clamp(*c.ConversionProbability, 0, 1)*100))))
	}
	if stageOrUnknown(c.Stage) == StageUnknown {
		out = append(out, "unrecognised pipeline stage")
	}
	return out
}

func stageOrUnknown(s Stage) Stage {
	if s.Index() < 0 {
		return StageUnknown
	}
	return s
}

func validProb(p *float64) bool {
	return p != nil && !math.IsNaN(*p)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
