package model

// Account is the derived balance cache for one user. Credits is always
// reproducible by summing COMPLETED transaction amounts; TotalEarned and
// TotalSpent are monotonic display counters and carry no correctness weight.
type Account struct {
	UserID      int64 `json:"user_id"`
	Credits     int64 `json:"credits"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
}

func (Account) TableName() string { return "accounts" }

// SufficiencyCheck is a read-only fast-fail signal for the UI. It is never
// the authority for a deduction; the conditional update in the repository is.
type SufficiencyCheck struct {
	Sufficient bool  `json:"sufficient"`
	Balance    int64 `json:"balance"`
	Required   int64 `json:"required"`
}
