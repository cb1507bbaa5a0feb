// Package scheduler maps persisted analytics schedules onto live cron timers
// and runs the analysis callback when they fire. Tier policy lives with the
// callers; the timer registry itself is tier-agnostic.
package scheduler

import (
	"errors"
	"fmt"
)

// Frequency is how often a schedule fires.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

var (
	// ErrUnsupportedFrequency is returned for a frequency outside the enum.
	ErrUnsupportedFrequency = errors.New("unsupported frequency")

	// ErrIntervalRequired is returned when frequency is custom and no
	// positive interval is given.
	ErrIntervalRequired = errors.New("interval required for custom frequency")

	// ErrIntervalNotAllowed is returned when an interval accompanies a
	// non-custom frequency.
	ErrIntervalNotAllowed = errors.New("interval only applies to custom frequency")
)

// ComputeTrigger maps a frequency to a cron expression. Custom frequencies
// fire every interval minutes; interval is ignored for the fixed frequencies.
func ComputeTrigger(frequency Frequency, interval *int) (string, error) {
	switch frequency {
	case FrequencyHourly:
		return "0 * * * *", nil
	case FrequencyDaily:
		return "0 0 * * *", nil
	case FrequencyWeekly:
		return "0 0 * * 0", nil
	case FrequencyMonthly:
		return "0 0 1 * *", nil
	case FrequencyCustom:
		if interval == nil || *interval <= 0 {
			return "", ErrIntervalRequired
		}
		return fmt.Sprintf("*/%d * * * *", *interval), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFrequency, frequency)
	}
}

// ValidateFrequency checks the frequency/interval pair without building a
// trigger. Interval must be present and positive when and only when the
// frequency is custom.
func ValidateFrequency(frequency Frequency, interval *int) error {
	if frequency != FrequencyCustom && interval != nil {
		return ErrIntervalNotAllowed
	}
	_, err := ComputeTrigger(frequency, interval)
	return err
}
