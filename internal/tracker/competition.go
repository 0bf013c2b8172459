package tracker

import "time"

// Competition records every solver attempt to fill one order and the
// adjudicated winner. It is created lazily on the first observed attempt and
// finalized exactly once: either by the first successful fill or by window
// expiry with no winner. The tracker owns all mutation; other components only
// ever see snapshots.
type Competition struct {
	OrderID        string               `json:"order_id"`
	Solvers        []string             `json:"solvers"`
	FillTimes      map[string]time.Time `json:"fill_times"`
	TotalAttempts  int                  `json:"total_attempts"`
	FailedAttempts int                  `json:"failed_attempts"`
	Winner         string               `json:"winner,omitempty"`
	Active         bool                 `json:"active"`
	StartedAt      time.Time            `json:"started_at"`
	FinalizedAt    *time.Time           `json:"finalized_at,omitempty"`
}

func newCompetition(orderID string, now time.Time) *Competition {
	return &Competition{
		OrderID:   orderID,
		FillTimes: make(map[string]time.Time),
		Active:    true,
		StartedAt: now,
	}
}

func (c *Competition) hasSolver(solver string) bool {
	for _, s := range c.Solvers {
		if s == solver {
			return true
		}
	}
	return false
}

// snapshot returns a deep copy safe to hand outside the tracker's lock.
func (c *Competition) snapshot() *Competition {
	cp := *c
	cp.Solvers = append([]string(nil), c.Solvers...)
	cp.FillTimes = make(map[string]time.Time, len(c.FillTimes))
	for k, v := range c.FillTimes {
		cp.FillTimes[k] = v
	}
	if c.FinalizedAt != nil {
		t := *c.FinalizedAt
		cp.FinalizedAt = &t
	}
	return &cp
}
