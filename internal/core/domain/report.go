package domain

import "time"

// RouteOutcome is the result of relaying one route.
type RouteOutcome struct {
	Route      Route
	Relayed    int
	Skipped    int // service messages
	Abandoned  []AbandonedMessage
	Checkpoint Offset
	Elapsed    time.Duration
	Err        error // route-level failure outside the per-message envelope
}

// Errors counts abandonments plus a route-level failure.
func (o RouteOutcome) Errors() int {
	n := len(o.Abandoned)
	if o.Err != nil {
		n++
	}
	return n
}

// RunReport aggregates every route of one run.
type RunReport struct {
	RunID           string
	StartedAt       time.Time
	Elapsed         time.Duration
	MessagesRelayed int
	ErrorCount      int
	PerRoute        []RouteOutcome
	Err             error // fatal error that aborted the run, if any
}

// Add folds a route outcome into the totals.
func (r *RunReport) Add(o RouteOutcome) {
	r.PerRoute = append(r.PerRoute, o)
	r.MessagesRelayed += o.Relayed
	r.ErrorCount += o.Errors()
}

// RatePerMinute is the average relay rate over the run.
func (r *RunReport) RatePerMinute() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.MessagesRelayed) / r.Elapsed.Minutes()
}

// OK reports whether the run finished without any error.
func (r *RunReport) OK() bool {
	return r.ErrorCount == 0 && r.Err == nil
}
