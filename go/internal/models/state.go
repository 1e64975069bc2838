package models

// Recognized GameState keys. Any other key is carried opaquely.
const (
	KeyPlayers                = "players"
	KeyDisabledFields         = "disabledFields"
	KeyRequiredFields         = "requiredFields"
	KeyLeaderboardPageSize    = "leaderboardPageSize"
	KeyLeaderboardPages       = "leaderboardPages"
	KeyLeaderboardPageTimeout = "leaderboardPageTimeout"
)

// Player describes one station as listed under "players".
type Player struct {
	Name string `json:"name"`
}

// FormFields is the fixed set of form fields collected from a player, in
// export column order.
var FormFields = []string{
	"firstName",
	"lastName",
	"email",
	"address",
	"phone",
	"city",
	"state",
	"zip",
}
