package clans

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clanmap/clanmap/internal/geo"
	"github.com/clanmap/clanmap/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves fixed rows and can fail either stream after a number of rows.
type fakeSource struct {
	mu          sync.Mutex
	pieces      []core.PieceRow
	members     []core.MemberRow
	piecesErr   error
	membersErr  error
	failAfter   int
	pieceCalls  atomic.Int32
	memberCalls atomic.Int32
}

func (s *fakeSource) Pieces(ctx context.Context) iter.Seq2[core.PieceRow, error] {
	s.pieceCalls.Add(1)
	s.mu.Lock()
	rows, streamErr := s.pieces, s.piecesErr
	s.mu.Unlock()
	return stream(rows, streamErr, s.failAfter)
}

func (s *fakeSource) Members(ctx context.Context) iter.Seq2[core.MemberRow, error] {
	s.memberCalls.Add(1)
	s.mu.Lock()
	rows, streamErr := s.members, s.membersErr
	s.mu.Unlock()
	return stream(rows, streamErr, s.failAfter)
}

func (s *fakeSource) set(pieces []core.PieceRow, members []core.MemberRow, piecesErr, membersErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pieces, s.members = pieces, members
	s.piecesErr, s.membersErr = piecesErr, membersErr
}

func stream[T any](rows []T, streamErr error, failAfter int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i, row := range rows {
			if streamErr != nil && i == failAfter {
				break
			}
			if !yield(row, nil) {
				return
			}
		}
		if streamErr != nil {
			var zero T
			yield(zero, streamErr)
		}
	}
}

func piece(clanID int64, name string, x, y, z float32) core.PieceRow {
	return core.PieceRow{
		ClanID:   clanID,
		ClanName: name,
		Transform: geo.EncodeTransform(core.Transform{
			Rotation:    core.Quaternion{W: 1},
			Translation: core.Vector{X: x, Y: y, Z: z},
			Scale:       core.Vector{X: 1, Y: 1, Z: 1},
		}),
	}
}

func member(clanID, playerID int64, name string, owner bool) core.MemberRow {
	return core.MemberRow{ClanID: clanID, PlayerID: playerID, PlayerName: name, IsOwner: owner}
}

func TestRefresh_Centroid(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{
		piece(1, "Vikings", 0, 0, 0),
		piece(1, "Vikings", 2, 0, 0),
		piece(1, "Vikings", 4, 0, 0),
	}}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))

	clans := a.Clans()
	require.Len(t, clans, 1)
	clan := clans[1]
	assert.Equal(t, int64(1), clan.ID)
	assert.Equal(t, "Vikings", clan.Name)
	require.Len(t, clan.Bases, 1)
	assert.Equal(t, core.BaseLocation{X: 2, Y: 0, Z: 0, Count: 3}, clan.Bases[0])
	assert.Empty(t, clan.Players)
	assert.NotNil(t, clan.Players)
}

func TestRefresh_SeparatesClans(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{
		piece(1, "A", 10, 20, 30),
		piece(2, "B", -5, -5, 0),
		piece(1, "A", 30, 40, 50),
		piece(2, "B", 5, 5, 0),
	}}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))

	clans := a.Clans()
	require.Len(t, clans, 2)
	assert.Equal(t, core.BaseLocation{X: 20, Y: 30, Z: 40, Count: 2}, clans[1].Bases[0])
	assert.Equal(t, core.BaseLocation{X: 0, Y: 0, Z: 0, Count: 2}, clans[2].Bases[0])
}

func TestRefresh_AttachesPlayers(t *testing.T) {
	src := &fakeSource{
		pieces: []core.PieceRow{piece(1, "A", 0, 0, 0)},
		members: []core.MemberRow{
			member(1, 100, "Conan", true),
			member(1, 101, "Valeria", false),
		},
	}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))

	players := a.Clans()[1].Players
	assert.Equal(t, []core.PlayerDetails{
		{Name: "Conan", ClanOwner: true, ID: 100},
		{Name: "Valeria", ClanOwner: false, ID: 101},
	}, players)
}

func TestRefresh_DropsPlayersOfUnknownClans(t *testing.T) {
	src := &fakeSource{
		pieces: []core.PieceRow{piece(1, "A", 0, 0, 0)},
		members: []core.MemberRow{
			member(1, 100, "Conan", true),
			member(2, 200, "Homeless", true),
		},
	}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))

	clans := a.Clans()
	require.Len(t, clans, 1)
	_, ok := clans[2]
	assert.False(t, ok, "membership must not create a clan")
	for _, clan := range clans {
		for _, p := range clan.Players {
			assert.NotEqual(t, int64(200), p.ID)
		}
	}

	res, ok := a.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, res.Players)
	assert.Equal(t, 1, res.DroppedPlayers)
}

func TestRefresh_Idempotent(t *testing.T) {
	src := &fakeSource{
		pieces:  []core.PieceRow{piece(1, "A", 1.5, 2.5, 3.5), piece(2, "B", 7, 8, 9), piece(1, "A", 0.25, 0, 0)},
		members: []core.MemberRow{member(1, 10, "x", true), member(2, 20, "y", false)},
	}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))
	first := a.Clans()
	require.NoError(t, a.Refresh(context.Background()))
	second := a.Clans()

	assert.Equal(t, first, second)
}

func TestRefresh_StreamsOncePerCall(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{piece(1, "A", 0, 0, 0)}}
	a := NewAggregator("el", src, nil)

	require.NoError(t, a.Refresh(context.Background()))
	require.NoError(t, a.Refresh(context.Background()))

	assert.Equal(t, int32(2), src.pieceCalls.Load())
	assert.Equal(t, int32(2), src.memberCalls.Load())
}

func TestRefresh_EmptySource(t *testing.T) {
	a := NewAggregator("el", &fakeSource{}, nil)

	require.NoError(t, a.Refresh(context.Background()))
	assert.NotNil(t, a.Clans())
	assert.Empty(t, a.Clans())
}

func TestRefresh_PiecesErrorKeepsPreviousSnapshot(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{piece(1, "A", 4, 4, 4)}}
	a := NewAggregator("el", src, nil)
	require.NoError(t, a.Refresh(context.Background()))
	before := a.Clans()

	src.set([]core.PieceRow{piece(1, "A", 0, 0, 0), piece(2, "B", 1, 1, 1)}, nil, errors.New("database is locked"), nil)
	src.failAfter = 1

	err := a.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrRowStream)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, before, a.Clans())

	res, ok := a.LastResult()
	require.True(t, ok)
	assert.False(t, res.OK())
}

func TestRefresh_MembersErrorKeepsPreviousSnapshot(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{piece(1, "A", 4, 4, 4)}}
	a := NewAggregator("el", src, nil)
	require.NoError(t, a.Refresh(context.Background()))
	before := a.Clans()

	src.set([]core.PieceRow{piece(3, "C", 0, 0, 0)}, []core.MemberRow{member(3, 1, "p", true)}, nil, errors.New("no such column: char_name"))

	err := a.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRowStream)
	assert.Equal(t, before, a.Clans())
}

func TestRefresh_MalformedTransformAborts(t *testing.T) {
	src := &fakeSource{pieces: []core.PieceRow{piece(1, "A", 4, 4, 4)}}
	a := NewAggregator("el", src, nil)
	require.NoError(t, a.Refresh(context.Background()))
	before := a.Clans()

	src.set([]core.PieceRow{
		piece(1, "A", 0, 0, 0),
		{ClanID: 1, ClanName: "A", Transform: make([]byte, 39)},
	}, nil, nil, nil)

	err := a.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, geo.ErrMalformedRecord)
	assert.Equal(t, before, a.Clans())
}

func TestClans_ReturnsCopy(t *testing.T) {
	src := &fakeSource{
		pieces:  []core.PieceRow{piece(1, "A", 1, 1, 1)},
		members: []core.MemberRow{member(1, 1, "p", true)},
	}
	a := NewAggregator("el", src, nil)
	require.NoError(t, a.Refresh(context.Background()))

	got := a.Clans()
	clan := got[1]
	clan.Bases[0].X = 999
	clan.Players[0].Name = "mutated"

	fresh := a.Clans()[1]
	assert.Equal(t, 1.0, fresh.Bases[0].X)
	assert.Equal(t, "p", fresh.Players[0].Name)
}

func TestLastResult_BeforeRefresh(t *testing.T) {
	a := NewAggregator("el", &fakeSource{}, nil)
	_, ok := a.LastResult()
	assert.False(t, ok)
}

func TestLastResult_Counts(t *testing.T) {
	src := &fakeSource{
		pieces:  []core.PieceRow{piece(1, "A", 0, 0, 0), piece(1, "A", 0, 0, 0), piece(2, "B", 0, 0, 0)},
		members: []core.MemberRow{member(1, 1, "a", true), member(2, 2, "b", true)},
	}
	a := NewAggregator("savage", src, nil)
	require.NoError(t, a.Refresh(context.Background()))

	res, ok := a.LastResult()
	require.True(t, ok)
	assert.Equal(t, "savage", res.MapID)
	assert.Equal(t, 3, res.Pieces)
	assert.Equal(t, 2, res.Clans)
	assert.Equal(t, 2, res.Players)
	assert.True(t, res.OK())
	assert.False(t, res.Started.After(time.Now()))
}
