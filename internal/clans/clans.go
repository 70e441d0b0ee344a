// Package clans aggregates building pieces of a game database into one base
// location per clan.
//
// The aggregate is the arithmetic mean of every piece a clan owns. That is a
// poor guess for clans with several bases, but it is what the map shows.
package clans

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clanmap/clanmap/internal/geo"
	"github.com/clanmap/clanmap/pkg/core"
)

var (
	// ErrRefreshFailed wraps every error returned by Refresh
	ErrRefreshFailed = errors.New("clan refresh failed")
	// ErrRowStream is returned when a query or row scan fails
	ErrRowStream = errors.New("row stream error")
)

// Source streams the rows an aggregation pass needs.
// Every call issues a new query; a stream ends at the first error.
type Source interface {
	Pieces(ctx context.Context) iter.Seq2[core.PieceRow, error]
	Members(ctx context.Context) iter.Seq2[core.MemberRow, error]
}

// Snapshot maps clan id to its details. Published snapshots are never mutated.
type Snapshot map[int64]*core.ClanDetails

// Aggregator owns the clan snapshot of one map.
type Aggregator struct {
	mapID  string
	source Source
	log    *slog.Logger

	refreshMu sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
	last      atomic.Pointer[core.RefreshResult]
}

// NewAggregator creates an aggregator with an empty snapshot.
func NewAggregator(mapID string, source Source, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	a := &Aggregator{
		mapID:  mapID,
		source: source,
		log:    log.With("map", mapID),
	}
	empty := Snapshot{}
	a.snapshot.Store(&empty)
	return a
}

// Clans returns a copy of the last published snapshot.
func (a *Aggregator) Clans() map[int64]core.ClanDetails {
	snap := *a.snapshot.Load()
	out := make(map[int64]core.ClanDetails, len(snap))
	for id, clan := range snap {
		out[id] = clan.Clone()
	}
	return out
}

// LastResult returns the outcome of the most recent refresh.
func (a *Aggregator) LastResult() (core.RefreshResult, bool) {
	r := a.last.Load()
	if r == nil {
		return core.RefreshResult{}, false
	}
	return *r, true
}

// Refresh rebuilds the snapshot from the source. On error the previous
// snapshot stays published.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	result := core.RefreshResult{MapID: a.mapID, Started: time.Now()}
	a.log.Debug("Refreshing clans")

	clans, err := a.readBases(ctx, &result)
	if err == nil {
		err = a.readPlayers(ctx, clans, &result)
	}
	result.Duration = time.Since(result.Started)

	if err != nil {
		result.Err = fmt.Errorf("%w: %s: %w", ErrRefreshFailed, a.mapID, err)
		a.last.Store(&result)
		return result.Err
	}

	result.Clans = len(clans)
	a.snapshot.Store(&clans)
	a.last.Store(&result)
	a.log.Info("Clans refreshed",
		"pieces", result.Pieces,
		"clans", result.Clans,
		"players", result.Players,
		"duration", result.Duration)
	return nil
}

// readBases sums up translations per clan and divides by the piece count.
func (a *Aggregator) readBases(ctx context.Context, result *core.RefreshResult) (Snapshot, error) {
	clans := Snapshot{}
	for row, err := range a.source.Pieces(ctx) {
		if err != nil {
			return nil, fmt.Errorf("%w: pieces: %w", ErrRowStream, err)
		}
		t, err := geo.DecodeTransform(row.Transform)
		if err != nil {
			return nil, fmt.Errorf("clan %d: %w", row.ClanID, err)
		}

		clan, ok := clans[row.ClanID]
		if !ok {
			clan = &core.ClanDetails{
				ID:      row.ClanID,
				Name:    row.ClanName,
				Bases:   []core.BaseLocation{{}},
				Players: []core.PlayerDetails{},
			}
			clans[row.ClanID] = clan
		}

		base := &clan.Bases[0]
		base.Count++
		base.X += float64(t.Translation.X)
		base.Y += float64(t.Translation.Y)
		base.Z += float64(t.Translation.Z)
		result.Pieces++
	}

	// entries only exist with at least one piece, Count is never zero here
	for _, clan := range clans {
		base := &clan.Bases[0]
		n := float64(base.Count)
		base.X /= n
		base.Y /= n
		base.Z /= n
	}
	return clans, nil
}

func (a *Aggregator) readPlayers(ctx context.Context, clans Snapshot, result *core.RefreshResult) error {
	for row, err := range a.source.Members(ctx) {
		if err != nil {
			return fmt.Errorf("%w: members: %w", ErrRowStream, err)
		}
		clan, ok := clans[row.ClanID]
		if !ok {
			result.DroppedPlayers++
			continue
		}
		clan.Players = append(clan.Players, core.PlayerDetails{
			Name:      row.PlayerName,
			ClanOwner: row.IsOwner,
			ID:        row.PlayerID,
		})
		result.Players++
	}
	return nil
}
