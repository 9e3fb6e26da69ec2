package entity

import (
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// ExtractionOutcome records one tier attempt. Batch holds whatever the tier
// returned, which may be empty.
type ExtractionOutcome struct {
	Tier      constants.TierID        `json:"tier"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Budget    time.Duration           `json:"budget"`
	Status    constants.OutcomeStatus `json:"status"`
	Reason    string                  `json:"reason,omitempty"`
	Items     int                     `json:"items"`
	Batch     *LineItemBatch          `json:"-"`
}

// Succeeded reports whether this attempt won.
func (o ExtractionOutcome) Succeeded() bool {
	return o.Status == constants.OutcomeSuccess && o.Batch != nil
}
