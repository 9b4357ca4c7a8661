package model

import "time"

// CostTable lists what each job type costs.
type CostTable struct {
	ImageCost  float64    `json:"imageCost"`
	MotionCost float64    `json:"motionCost"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// CostOf returns the cost of one job of the given mode.
func (c CostTable) CostOf(m Mode) float64 {
	if m == ModeVideo {
		return c.MotionCost
	}
	return c.ImageCost
}

// CreditsState is the cached balance of one account.
type CreditsState struct {
	Balance   float64   `json:"balance"`
	Costs     CostTable `json:"meta"`
	FetchedAt time.Time `json:"fetchedAt"`
	Dirty     bool      `json:"dirty"`
	// Known is false until a balance has been fetched or adopted.
	Known bool `json:"known"`
}

// BalanceReading is a balance as returned by the backend. Balance is nil
// when the response carried no usable number.
type BalanceReading struct {
	Balance *float64
	Costs   CostTable
}
