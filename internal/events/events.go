package events

// Job event types recorded in the outbox for downstream consumers.
const (
	EventJobDispatched    = "job.dispatched"
	EventJobCompleted     = "job.completed"
	EventJobFailed        = "job.failed"
	EventRefundIssued     = "job.refund_issued"
	EventCreditsGranted   = "credits.granted"
	EventCreditsRequested = "credits.requested"
)

// JobEventPayload captures the minimal data a consumer needs to react
// to a job transition.
type JobEventPayload struct {
	JobID          string `json:"job_id"`
	Subject        string `json:"subject"`
	Status         string `json:"status,omitempty"`
	CreditsCharged int64  `json:"credits_charged,omitempty"`
	Refunded       int64  `json:"refunded,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p JobEventPayload) ToMap() map[string]any {
	payload := map[string]any{
		"job_id":  p.JobID,
		"subject": p.Subject,
	}
	if p.Status != "" {
		payload["status"] = p.Status
	}
	if p.CreditsCharged != 0 {
		payload["credits_charged"] = p.CreditsCharged
	}
	if p.Refunded != 0 {
		payload["refunded"] = p.Refunded
	}
	return payload
}
