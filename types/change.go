package types

import "time"

// SystemUser is the change author for changes made by the registry itself.
const SystemUser = "system"

// ChangeSummary records who changed a store definition and why.
type ChangeSummary struct {
	User      string    `json:"user"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeSummary stamps a summary with the current time.
func NewChangeSummary(user, summary string) ChangeSummary {
	if user == "" {
		user = SystemUser
	}
	return ChangeSummary{User: user, Summary: summary, Timestamp: time.Now().UTC()}
}

func (c ChangeSummary) String() string {
	return c.User + ": " + c.Summary
}
