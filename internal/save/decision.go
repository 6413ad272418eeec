package save

import (
	"fmt"
	"time"
)

// Reason explains the outcome of one pass through the save policy.
type Reason string

const (
	// ReasonSaved means the persistence endpoint stored the document
	ReasonSaved Reason = "saved"

	// ReasonFailed means the persistence endpoint returned an error
	ReasonFailed Reason = "failed"

	// ReasonDataLossGuard means an empty active set was refused after content had been observed
	ReasonDataLossGuard Reason = "data_loss_guard"

	// ReasonInFlight means another save was still running
	ReasonInFlight Reason = "in_flight"

	// ReasonThrottled means the minimum interval since the last save had not elapsed
	ReasonThrottled Reason = "throttled"

	// ReasonUnchanged means the set equals the last saved set
	ReasonUnchanged Reason = "unchanged"

	// ReasonClosed means the coordinator no longer accepts saves
	ReasonClosed Reason = "closed"
)

// Decision is reported to the diagnostics hook for every save attempt.
// Every reason except saved and failed is an expected, silent no-op.
type Decision struct {
	Reason   Reason
	Teardown bool
	Active   int
	Total    int
	At       time.Time

	// RetryIn is set for throttled decisions: time until the window reopens.
	RetryIn time.Duration

	// Err is set for failed decisions.
	Err error
}

// Persisted reports whether the decision stored a document.
func (d Decision) Persisted() bool {
	return d.Reason == ReasonSaved
}

// Aborted reports whether the policy skipped the save without calling the endpoint.
func (d Decision) Aborted() bool {
	return d.Reason != ReasonSaved && d.Reason != ReasonFailed
}

func (d Decision) String() string {
	s := fmt.Sprintf("%s (active=%d total=%d teardown=%t)", d.Reason, d.Active, d.Total, d.Teardown)
	if d.RetryIn > 0 {
		s += fmt.Sprintf(" retry_in=%s", d.RetryIn)
	}
	if d.Err != nil {
		s += fmt.Sprintf(" err=%v", d.Err)
	}
	return s
}
