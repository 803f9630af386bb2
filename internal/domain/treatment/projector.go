package treatment

import (
	"fmt"
	"math"
	"time"

	"github.com/medpod/medpod/internal/platform/apperr"
)

// CompletionPolicy decides when a scheduled dose counts as administered.
type CompletionPolicy string

const (
	// PolicyClock compares minutes since midnight.
	PolicyClock CompletionPolicy = "clock"
	// PolicyLexical compares the "15:04" rendering of now with the schedule
	// entry as text, so an unpadded "9:05" sorts after "10:00".
	PolicyLexical CompletionPolicy = "lexical"
)

// ParsePolicy maps a config value to a policy. The empty string means clock.
func ParsePolicy(s string) (CompletionPolicy, error) {
	switch CompletionPolicy(s) {
	case "", PolicyClock:
		return PolicyClock, nil
	case PolicyLexical:
		return PolicyLexical, nil
	default:
		return "", fmt.Errorf("unknown completion policy %q", s)
	}
}

func (p CompletionPolicy) completed(entry string, at TimeOfDay, now time.Time) bool {
	if p == PolicyLexical {
		return now.Format("15:04") >= entry
	}
	return TimeOfDayOf(now).Minutes() >= at.Minutes()
}

// Validate checks a config before it is projected or stored.
func Validate(cfg DeviceDosageConfig) error {
	const op = "treatment.Validate"
	if !(cfg.InitialMedication > 0) || math.IsInf(cfg.InitialMedication, 0) {
		return apperr.Validation(op, "initial_medication must be positive")
	}
	if cfg.MedicationLeft < 0 || cfg.MedicationLeft > cfg.InitialMedication || math.IsNaN(cfg.MedicationLeft) {
		return apperr.Validation(op, "medication_left must be between 0 and initial_medication")
	}
	if len(cfg.Schedule) == 0 {
		return apperr.Validation(op, "schedule must not be empty")
	}
	prev := -1
	for _, entry := range cfg.Schedule {
		t, err := ParseTimeOfDay(entry)
		if err != nil {
			return apperr.Validation(op, err.Error())
		}
		if t.Minutes() < prev {
			return apperr.Validation(op, fmt.Sprintf("schedule out of order at %q", entry))
		}
		prev = t.Minutes()
	}
	return nil
}

// Project spreads the medication used so far evenly across the schedule and
// reports, per entry, the rounded dose, the share of the reservoir left after
// it and whether it has been administered as of now. It is a pure function of
// its arguments.
func Project(cfg DeviceDosageConfig, now time.Time, policy CompletionPolicy) (*TreatmentPlan, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	perDose := (cfg.InitialMedication - cfg.MedicationLeft) / float64(len(cfg.Schedule))
	remainingAfter := cfg.InitialMedication

	events := make([]DosageEvent, 0, len(cfg.Schedule))
	for _, entry := range cfg.Schedule {
		at, _ := ParseTimeOfDay(entry)
		remainingAfter -= perDose

		pct := int(math.Round(100 * remainingAfter / cfg.InitialMedication))
		if pct < 0 {
			pct = 0
		}
		events = append(events, DosageEvent{
			Time:             entry,
			InjectedML:       int(math.Round(perDose)),
			RemainingPercent: pct,
			Completed:        policy.completed(entry, at, now),
		})
	}

	return &TreatmentPlan{
		PatientID:         cfg.PatientID,
		ComputedAt:        now,
		Policy:            policy,
		InitialMedication: cfg.InitialMedication,
		MedicationLeft:    cfg.MedicationLeft,
		PerDoseML:         perDose,
		Events:            events,
	}, nil
}
