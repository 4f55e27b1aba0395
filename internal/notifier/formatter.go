package notifier

import (
	"errors"
	"fmt"
	"strings"

	"SpotBridge/internal/collector"
	"SpotBridge/internal/model"
	"SpotBridge/internal/plc"
)

const notAvailable = "not available"

func amount(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return fmt.Sprintf("%.2f", *v)
}

// FormatStatistics renders the day's statistics for the operator.
func FormatStatistics(stats *model.DerivedStatistics) string {
	if stats == nil {
		return "No statistics computed yet.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Spot prices %s (%d hourly records, EUR/MWh)\n",
		stats.ComputedAt.Format("2006-01-02 15:04"), stats.Records))
	line := func(label string, v *float64) {
		b.WriteString(fmt.Sprintf("  %-26s %s\n", label+":", amount(v)))
	}
	line("Lowest price", stats.DailyMin)
	line("Highest price", stats.DailyMax)
	line("Spread (highest - lowest)", stats.DailySpread)
	line("Average price", stats.DailyAverage)
	line("Current hour (DK1)", stats.CurrentHourPrice)
	line(fmt.Sprintf("Top %.0f%% starts at", stats.Params.X*100), stats.PercentileHigh)
	line(fmt.Sprintf("Bottom %.0f%% ends at", stats.Params.Y*100), stats.PercentileLow)

	if len(stats.Errors) > 0 {
		b.WriteString("Notes:\n")
		for _, err := range stats.Errors {
			b.WriteString("  - " + err.Error() + "\n")
		}
	}
	return b.String()
}

// FormatCycleReport summarizes one synchronization cycle in plain language.
func FormatCycleReport(rep *model.CycleReport) string {
	if rep == nil {
		return "No synchronization has run yet.\n"
	}
	var b strings.Builder
	when := rep.StartedAt.Format("2006-01-02 15:04:05")
	if rep.Err != nil {
		b.WriteString(fmt.Sprintf("Sync at %s (%s) failed: %s\n", when, strings.ToLower(string(rep.Trigger)), Describe(rep.Err)))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Sync at %s (%s): %d written, %d failed, %d not available\n",
		when, strings.ToLower(string(rep.Trigger)), rep.Succeeded(), rep.Failed(), rep.Unavailable()))
	for _, w := range rep.Writes {
		switch w.Status {
		case model.WriteFailed:
			b.WriteString(fmt.Sprintf("  register %d (%s): %s\n", w.Address, w.Metric, Describe(w.Err)))
		case model.WriteUnavailable:
			b.WriteString(fmt.Sprintf("  register %d (%s): no value this hour, left unchanged\n", w.Address, w.Metric))
		}
	}
	return b.String()
}

// Describe turns a cycle error into a sentence an operator can act on.
func Describe(err error) string {
	if err == nil {
		return "no error"
	}
	var we *plc.WriteError
	if errors.As(err, &we) {
		switch we.Kind {
		case plc.ErrorKindException:
			return "the controller rejected the value (" + we.Err.Error() + ")"
		case plc.ErrorKindEncoding:
			return "the value does not fit in a 16-bit register"
		case plc.ErrorKindIO:
			return "lost the connection to the controller (" + we.Err.Error() + ")"
		default:
			return "the controller sent an unexpected reply (" + we.Err.Error() + ")"
		}
	}
	switch {
	case errors.Is(err, collector.ErrUnauthorized):
		return "the price service refused the API key"
	case errors.Is(err, collector.ErrRateLimited):
		return "the price service is rate limiting requests, try again later"
	case errors.Is(err, collector.ErrInvalidPayload):
		return "the price service returned data that could not be read"
	case errors.Is(err, collector.ErrUnexpectedStatus):
		return "the price service is not responding normally (" + err.Error() + ")"
	case errors.Is(err, plc.ErrNotConnected):
		return "the controller is not connected"
	}
	return err.Error()
}
