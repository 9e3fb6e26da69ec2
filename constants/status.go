package constants

// OutcomeStatus is the result tag of one tier attempt.
type OutcomeStatus string

// Stable values (persisted in extraction_outcome.status).
const (
	OutcomeSuccess OutcomeStatus = "SUCCESS" // non-empty batch, tier won
	OutcomeTimeout OutcomeStatus = "TIMEOUT" // sub-budget exceeded, call abandoned
	OutcomeError   OutcomeStatus = "ERROR"   // service error or malformed response
	OutcomeEmpty   OutcomeStatus = "EMPTY"   // call succeeded with zero line items
)

// Recovered reports whether the orchestrator advances past this status.
func (s OutcomeStatus) Recovered() bool {
	return s != OutcomeSuccess
}
