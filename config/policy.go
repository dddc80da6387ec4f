package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"journal-desk/models"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Policy bündelt die redaktionellen Regeln, die ohne Codeänderung anpassbar sind.
type Policy struct {
	DecisionActions map[models.DecisionType][]models.ActionType `yaml:"decision_actions"`
	Invitations     InvitationPolicy                            `yaml:"invitations"`
	Conflicts       ConflictPolicy                              `yaml:"conflicts"`
	Quality         QualityPolicy                               `yaml:"quality"`
	Jobs            RetryPolicy                                 `yaml:"jobs"`
	Lifecycle       LifecyclePolicy                             `yaml:"lifecycle"`
	DOI             DOIPolicy                                   `yaml:"doi"`
}

type InvitationPolicy struct {
	StaggerIntervalHours int   `yaml:"stagger_interval_hours"`
	ReminderScheduleDays []int `yaml:"reminder_schedule_days"`
	FollowUpDays         int   `yaml:"follow_up_days"`
}

type ConflictPolicy struct {
	InstitutionalRecencyYears     int                     `yaml:"institutional_recency_years"`
	CoauthorshipRecencyYears      int                     `yaml:"coauthorship_recency_years"`
	CoauthorshipFrequencyYears    int                     `yaml:"coauthorship_frequency_years"`
	CoauthorshipFrequentThreshold int                     `yaml:"coauthorship_frequent_threshold"`
	SeverityWeights               map[models.Severity]int `yaml:"severity_weights"`
}

type QualityPolicy struct {
	DefaultPriority          int           `yaml:"default_priority"`
	RecentReportWindow       time.Duration `yaml:"recent_report_window"`
	LowQualityScore          float64       `yaml:"low_quality_score"`
	TrainingMaxRating        int           `yaml:"training_max_rating"`
	TrainingAverageThreshold float64       `yaml:"training_average_threshold"`
	TrainingLowQualityCount  int           `yaml:"training_low_quality_count"`
	ExcellenceRating         int           `yaml:"excellence_rating"`
	ExcellenceFlag           string        `yaml:"excellence_flag"`
}

// RetryPolicy steuert Wiederholungen fehlgeschlagener Analysejobs.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Delay berechnet die Wartezeit vor dem nächsten Versuch (attempt beginnt bei 1).
func (r RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= r.Multiplier
		if time.Duration(d) >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && time.Duration(d) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(d)
}

type LifecyclePolicy struct {
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
	MaxRetries        int           `yaml:"max_retries"`
}

type DOIPolicy struct {
	Prefix      string `yaml:"prefix"`
	JournalCode string `yaml:"journal_code"`
}

// DefaultPolicy liefert die eingebettete Standard-Policy.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
}

// LoadPolicy lädt die Policy aus path; ein leerer Pfad liefert die Standard-Policy.
// Felder, die in der Datei fehlen, behalten ihre Standardwerte.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := DefaultPolicy()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, p.Validate()
}

// ParsePolicy dekodiert und validiert ein Policy-Dokument.
func ParsePolicy(raw []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return &p, p.Validate()
}

// Validate weist unbekannte Entscheidungen/Aktionen und unsinnige Schwellen zurück.
func (p *Policy) Validate() error {
	for decision, actions := range p.DecisionActions {
		if !decision.Valid() {
			return fmt.Errorf("policy: unknown decision %q", decision)
		}
		for _, a := range actions {
			if !a.Valid() {
				return fmt.Errorf("policy: unknown action %q for decision %q", a, decision)
			}
		}
	}
	if p.Invitations.StaggerIntervalHours < 0 {
		return fmt.Errorf("policy: stagger_interval_hours must not be negative")
	}
	if !sort.IntsAreSorted(p.Invitations.ReminderScheduleDays) {
		return fmt.Errorf("policy: reminder_schedule_days must be ascending")
	}
	for _, d := range p.Invitations.ReminderScheduleDays {
		if d <= 0 {
			return fmt.Errorf("policy: reminder offsets must be positive, got %d", d)
		}
	}
	if p.Quality.DefaultPriority < 1 || p.Quality.DefaultPriority > 10 {
		return fmt.Errorf("policy: default_priority must be within 1..10")
	}
	if p.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("policy: jobs.max_attempts must be at least 1")
	}
	if p.Lifecycle.MaxRetries < 0 {
		return fmt.Errorf("policy: lifecycle.max_retries must not be negative")
	}
	return nil
}

// ActionsFor liefert die konfigurierte Aktionsliste einer Entscheidung.
func (p *Policy) ActionsFor(d models.DecisionType) []models.ActionType {
	return p.DecisionActions[d]
}

// SeverityWeight liefert das Gewicht einer Severity (0, falls nicht konfiguriert).
func (p *Policy) SeverityWeight(s models.Severity) int {
	return p.Conflicts.SeverityWeights[s]
}
