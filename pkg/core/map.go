// pkg/core/map.go
package core

import "time"

// MapType identifies which game map a database belongs to
type MapType string

const (
	MapTypeExiledLands MapType = "exiled_lands"
	MapTypeSavageWilds MapType = "savage_wilds"
)

// Valid reports whether t is a known map type.
func (t MapType) Valid() bool {
	switch t {
	case MapTypeExiledLands, MapTypeSavageWilds:
		return true
	}
	return false
}

// MapEntry is the static configuration of a registered map.
// SourcePath points at the game.db file of the server.
type MapEntry struct {
	ID          string
	DisplayName string
	SourcePath  string
	Type        MapType
}

// Public returns the subset of the entry that may be delivered to users.
func (m MapEntry) Public() PublicMapInfo {
	return PublicMapInfo{
		Name: m.DisplayName,
		ID:   m.ID,
		Type: m.Type,
	}
}

// PublicMapInfo is the externally visible description of a map
type PublicMapInfo struct {
	Name string  `json:"name"`
	ID   string  `json:"id"`
	Type MapType `json:"type"`
}

// RefreshResult describes one aggregation run for a map.
// Err is nil on success.
type RefreshResult struct {
	MapID          string
	Started        time.Time
	Duration       time.Duration
	Pieces         int
	Clans          int
	Players        int
	DroppedPlayers int
	Err            error
}

// OK reports whether the refresh published a new snapshot.
func (r RefreshResult) OK() bool {
	return r.Err == nil
}
