// Package history keeps every refresh run and the base centroids it
// published, so clan movement can be looked at after the fact.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/clanmap/clanmap/internal/geo"
	"github.com/clanmap/clanmap/internal/model"
	"github.com/clanmap/clanmap/pkg/core"
	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoRuns is returned when a map has no successful run recorded
var ErrNoRuns = errors.New("no refresh runs recorded")

// Store writes refresh runs to the history database.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger

	mu   sync.Mutex
	maps map[string]uint
}

// New creates a store on a migrated history database.
func New(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{
		db:   db,
		log:  log,
		maps: make(map[string]uint),
	}
}

// RegisterMap creates or updates the map row for entry.
func (s *Store) RegisterMap(entry core.MapEntry) error {
	m := model.Map{
		MapID:       entry.ID,
		DisplayName: entry.DisplayName,
		Type:        string(entry.Type),
	}
	created, err := m.GetOrInsert(s.db)
	if err != nil {
		return fmt.Errorf("storing map %s: %w", entry.ID, err)
	}
	if !created && (m.DisplayName != entry.DisplayName || m.Type != string(entry.Type)) {
		err = s.db.Model(&m).Updates(map[string]any{
			"display_name": entry.DisplayName,
			"type":         string(entry.Type),
		}).Error
		if err != nil {
			return fmt.Errorf("updating map %s: %w", entry.ID, err)
		}
	}

	s.mu.Lock()
	s.maps[entry.ID] = m.ID
	s.mu.Unlock()
	s.log.Debug().Str("map", entry.ID).Bool("created", created).Msg("History map registered")
	return nil
}

func (s *Store) mapRowID(mapID string) (uint, error) {
	s.mu.Lock()
	id, ok := s.maps[mapID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := s.RegisterMap(core.MapEntry{ID: mapID, DisplayName: mapID}); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maps[mapID], nil
}

// Record stores one refresh run. Bases are only stored for successful runs.
func (s *Store) Record(ctx context.Context, result core.RefreshResult, snapshot map[int64]core.ClanDetails) (*model.RefreshRun, error) {
	mapRow, err := s.mapRowID(result.MapID)
	if err != nil {
		return nil, err
	}

	run := model.RefreshRun{
		Time:           result.Started,
		MapID:          mapRow,
		DurationMs:     float32(result.Duration.Seconds() * 1000),
		Pieces:         result.Pieces,
		Clans:          result.Clans,
		Players:        result.Players,
		DroppedPlayers: result.DroppedPlayers,
		Success:        result.OK(),
	}
	if result.Err != nil {
		run.Error = truncate(result.Err.Error(), 1024)
	}

	bases, err := s.baseSnapshots(result.MapID, snapshot)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&run).Error; err != nil {
			return fmt.Errorf("creating refresh run: %w", err)
		}
		if len(bases) == 0 {
			return nil
		}
		for i := range bases {
			bases[i].RefreshRunID = run.ID
		}
		if err := tx.Omit(clause.Associations).CreateInBatches(bases, 500).Error; err != nil {
			return fmt.Errorf("creating base snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	run.Bases = bases
	return &run, nil
}

// ObserveRefresh records the run, logging failures.
func (s *Store) ObserveRefresh(result core.RefreshResult, snapshot map[int64]core.ClanDetails) {
	run, err := s.Record(context.Background(), result, snapshot)
	if err != nil {
		s.log.Error().Err(err).Str("map", result.MapID).Msg("Failed to record refresh run")
		return
	}
	s.log.Trace().Str("map", result.MapID).Uint("run", run.ID).Int("bases", len(run.Bases)).Msg("Refresh run recorded")
}

// Runs returns the most recent runs of a map, newest first.
func (s *Store) Runs(ctx context.Context, mapID string, limit int) ([]model.RefreshRun, error) {
	var runs []model.RefreshRun
	err := s.db.WithContext(ctx).
		Select("refresh_runs.*").
		Joins("JOIN maps ON maps.id = refresh_runs.map_id").
		Where("maps.map_id = ?", mapID).
		Order("refresh_runs.time DESC, refresh_runs.id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", mapID, err)
	}
	return runs, nil
}

// LatestClans rebuilds the clan snapshot of the newest successful run.
func (s *Store) LatestClans(ctx context.Context, mapID string) (map[int64]core.ClanDetails, error) {
	var run model.RefreshRun
	err := s.db.WithContext(ctx).
		Select("refresh_runs.*").
		Joins("JOIN maps ON maps.id = refresh_runs.map_id").
		Where("maps.map_id = ? AND refresh_runs.success = ?", mapID, true).
		Order("refresh_runs.time DESC, refresh_runs.id DESC").
		Preload("Bases").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoRuns, mapID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest run of %s: %w", mapID, err)
	}

	out := make(map[int64]core.ClanDetails, len(run.Bases))
	for _, b := range run.Bases {
		loc := geo.BaseFromPoint(b.Location, b.Pieces)
		var players []core.PlayerDetails
		if len(b.Players) > 0 {
			if err := json.Unmarshal(b.Players, &players); err != nil {
				return nil, fmt.Errorf("decoding players of clan %d: %w", b.ClanID, err)
			}
		}
		c, ok := out[b.ClanID]
		if !ok {
			c = core.ClanDetails{ID: b.ClanID, Name: b.ClanName, Players: players}
		}
		c.Bases = append(c.Bases, loc)
		out[b.ClanID] = c.Clone()
	}
	return out, nil
}

// baseSnapshots flattens a snapshot into rows, ordered by clan id.
// A base with non-finite coordinates is stored as an empty point.
func (s *Store) baseSnapshots(mapID string, snapshot map[int64]core.ClanDetails) ([]model.BaseSnapshot, error) {
	ids := make([]int64, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var rows []model.BaseSnapshot
	for _, id := range ids {
		c := snapshot[id]
		players, err := json.Marshal(c.Players)
		if err != nil {
			return nil, fmt.Errorf("encoding players of clan %d: %w", id, err)
		}
		for _, b := range c.Bases {
			location, err := geo.BasePoint(b)
			if err != nil {
				s.log.Warn().Err(err).Str("map", mapID).Int64("clan", id).Msg("Base location is not finite, storing empty point")
				location = geom.NewEmptyPoint(geom.DimXYZ)
			}
			rows = append(rows, model.BaseSnapshot{
				ClanID:   c.ID,
				ClanName: c.Name,
				Location: location,
				Pieces:   b.Count,
				Players:  datatypes.JSON(players),
			})
		}
	}
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
