package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the history schema
var DatabaseModels = []interface{}{
	&Map{},
	&RefreshRun{},
	&BaseSnapshot{},
}

////////////////////////
// HISTORY MODELS
////////////////////////

// Map is a registered game map. MapID is the id from the config file.
type Map struct {
	gorm.Model
	MapID       string `json:"mapId" gorm:"size:64;uniqueIndex"`
	DisplayName string `json:"displayName" gorm:"size:127"`
	Type        string `json:"type" gorm:"size:32"`
	RefreshRuns []RefreshRun
}

func (*Map) TableName() string {
	return "maps"
}

// GetOrInsert loads the map with the same MapID or creates it.
func (m *Map) GetOrInsert(db *gorm.DB) (
	created bool,
	err error,
) {
	var existing Map
	err = db.Where("map_id = ?", m.MapID).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			err = db.Create(m).Error
			return true, err
		}
		return false, err
	}
	*m = existing
	return false, nil
}

// RefreshRun is one aggregation pass over a game database
type RefreshRun struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time           time.Time `json:"time" gorm:"index:idx_refresh_time"`
	MapID          uint      `json:"mapId" gorm:"index:idx_refresh_map_id"`
	Map            Map       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MapID;"`
	DurationMs     float32   `json:"durationMs"`
	Pieces         int       `json:"pieces"`
	Clans          int       `json:"clans"`
	Players        int       `json:"players"`
	DroppedPlayers int       `json:"droppedPlayers"`
	Success        bool      `json:"success"`
	Error          string    `json:"error" gorm:"size:1024"`
	Bases          []BaseSnapshot
}

func (*RefreshRun) TableName() string {
	return "refresh_runs"
}

// BaseSnapshot is the centroid of one clan as published by a refresh run
type BaseSnapshot struct {
	ID           uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RefreshRunID uint           `json:"refreshRunId" gorm:"index:idx_base_refresh_run_id"`
	RefreshRun   RefreshRun     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RefreshRunID;"`
	ClanID       int64          `json:"clanId" gorm:"index:idx_base_clan_id"`
	ClanName     string         `json:"clanName" gorm:"size:255"`
	Location     geom.Point     `json:"location"`
	Pieces       int            `json:"pieces"`
	Players      datatypes.JSON `json:"players"`
}

func (*BaseSnapshot) TableName() string {
	return "base_snapshots"
}
