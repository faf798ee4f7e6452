package optin

// Status is the outcome of a confirmation or opt-out attempt.
type Status string

const (
	StatusNotFound         Status = "not_found"
	StatusNotApplicable    Status = "not_applicable"
	StatusExpired          Status = "expired"
	StatusAlreadyConfirmed Status = "already_confirmed"
	StatusConfirmed        Status = "confirmed"
	// StatusPending means the confirmation could not be written; the record is unchanged.
	StatusPending         Status = "pending"
	StatusOptedOut        Status = "opted_out"
	StatusAlreadyOptedOut Status = "already_opted_out"
)
