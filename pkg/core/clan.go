// pkg/core/clan.go
package core

import (
	"math"

	"github.com/goccy/go-json"
)

// BaseLocation is the centroid of a clan's building pieces.
// Count is the number of pieces that contributed to it.
type BaseLocation struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Count int     `json:"count"`
}

type baseLocationJSON struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Z     *float64 `json:"z"`
	Count int      `json:"count"`
}

// MarshalJSON writes non-finite coordinates as null, JSON has no NaN.
func (b BaseLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(baseLocationJSON{
		X:     finite(b.X),
		Y:     finite(b.Y),
		Z:     finite(b.Z),
		Count: b.Count,
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// PlayerDetails is a single clan member
type PlayerDetails struct {
	Name      string `json:"name"`
	ClanOwner bool   `json:"clanOwner"`
	ID        int64  `json:"id"`
}

// ClanDetails is everything known about one clan after a refresh
type ClanDetails struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Bases   []BaseLocation  `json:"bases"`
	Players []PlayerDetails `json:"players"`
}

// Clone returns a deep copy so callers can't mutate a published snapshot.
func (c ClanDetails) Clone() ClanDetails {
	out := c
	out.Bases = append([]BaseLocation(nil), c.Bases...)
	out.Players = append([]PlayerDetails(nil), c.Players...)
	if out.Bases == nil {
		out.Bases = []BaseLocation{}
	}
	if out.Players == nil {
		out.Players = []PlayerDetails{}
	}
	return out
}

// PieceRow is one building piece joined with its owning clan.
type PieceRow struct {
	ClanID    int64  `gorm:"column:clan_id"`
	ClanName  string `gorm:"column:clan_name"`
	Transform []byte `gorm:"column:transform"`
}

// MemberRow is one character joined with its clan.
type MemberRow struct {
	ClanID     int64  `gorm:"column:clan_id"`
	PlayerID   int64  `gorm:"column:player_id"`
	PlayerName string `gorm:"column:player_name"`
	IsOwner    bool   `gorm:"column:is_owner"`
}
