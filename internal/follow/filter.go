package follow

import (
	"fmt"
	"time"
)

// signalContext is the input to the filter pipeline: one source fill or
// source order about to become a follow intent.
type signalContext struct {
	signalID    string
	symbol      string
	orderVolume float64
	eventTime   string // gateway HH:MM:SS
	now         time.Time
}

// filterFunc is one predicate. It reports pass and, on drop, the reason
// logged.
type filterFunc func(*Engine, *signalContext) (pass bool, reason string)

// filterPipeline is the ordered predicate list. The first drop
// terminates evaluation.
var filterPipeline = []filterFunc{
	filterVolumeWhitelist,
	filterBlacklist,
	filterAlreadyFollowed,
	filterTimeout,
}

// runFilters folds the pipeline over the signal. Returns the drop
// reason of the failing predicate, or "" on pass.
func runFilters(e *Engine, sig *signalContext) string {
	for _, f := range filterPipeline {
		if pass, reason := f(e, sig); !pass {
			return reason
		}
	}
	return ""
}

func filterVolumeWhitelist(e *Engine, sig *signalContext) (bool, string) {
	if e.settings.volumeAllowed(sig.orderVolume) {
		return true, ""
	}
	return false, fmt.Sprintf("volume %v not in whitelist", sig.orderVolume)
}

func filterBlacklist(e *Engine, sig *signalContext) (bool, string) {
	if !e.settings.isSkipped(sig.symbol) {
		return true, ""
	}
	return false, fmt.Sprintf("contract %s blacklisted", sig.symbol)
}

func filterAlreadyFollowed(e *Engine, sig *signalContext) (bool, string) {
	if _, ok := e.signalOrders[sig.signalID]; !ok {
		return true, ""
	}
	return false, fmt.Sprintf("signal %s already followed", sig.signalID)
}

func filterTimeout(e *Engine, sig *signalContext) (bool, string) {
	age, err := signalAge(sig.eventTime, sig.now)
	if err != nil {
		return false, fmt.Sprintf("bad event time %q", sig.eventTime)
	}
	limit := time.Duration(e.settings.FollowTimeout) * time.Second
	if age <= limit {
		return true, ""
	}
	return false, fmt.Sprintf("signal aged %v past follow timeout %v", age.Truncate(time.Second), limit)
}

// signalAge parses the gateway HH:MM:SS as today's wall clock and
// returns how long ago it was. A clock reading slightly ahead of now
// counts as zero age.
func signalAge(eventTime string, now time.Time) (time.Duration, error) {
	clock, err := time.Parse("15:04:05", eventTime)
	if err != nil {
		return 0, err
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location())
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	return age, nil
}
