package account

import "time"

// Config drives the demo account behavior.
type Config struct {
	// AcceptAnyLogin lets every non-empty credential pair sign in, the
	// way the hosted demo behaves.
	AcceptAnyLogin bool
}

// PointType selects which counter a points award updates.
type PointType string

const (
	PointsReuse  PointType = "reuse"
	PointsRepair PointType = "repair"
)

// User is a stored demo account.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	ReusePoints  int       `json:"reusePoints"`
	RepairPoints int       `json:"repairPoints"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Credentials is the register and login payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PointsRequest awards points to a user. Amount defaults to 1.
type PointsRequest struct {
	Username string    `json:"username"`
	Type     PointType `json:"type"`
	Amount   *int      `json:"amount,omitempty"`
}

// View is the public account shape returned by every endpoint.
type View struct {
	OK           bool   `json:"ok"`
	Username     string `json:"username"`
	ReusePoints  int    `json:"reusePoints"`
	RepairPoints int    `json:"repairPoints"`
}

func viewOf(u User) View {
	return View{OK: true, Username: u.Username, ReusePoints: u.ReusePoints, RepairPoints: u.RepairPoints}
}
