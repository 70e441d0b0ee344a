package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/clanmap/clanmap/internal/geo"
	"github.com/clanmap/clanmap/internal/model"
	"github.com/clanmap/clanmap/pkg/core"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func int64Ptr(v int64) *int64 { return &v }

func transformAt(x, y, z float32) []byte {
	return geo.EncodeTransform(core.Transform{
		Rotation:    core.Quaternion{W: 1},
		Translation: core.Vector{X: x, Y: y, Z: z},
		Scale:       core.Vector{X: 1, Y: 1, Z: 1},
	})
}

// writeGameDB creates a game.db with two guilds, one building each, and a
// character without a guild.
func writeGameDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.db")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.GameModels...))

	require.NoError(t, db.Create(&[]model.Guild{
		{GuildID: 1, Name: "Vikings", Owner: int64Ptr(100)},
		{GuildID: 2, Name: "Stygians", Owner: nil},
	}).Error)
	require.NoError(t, db.Create(&[]model.Character{
		{ID: 100, CharName: "Conan", Guild: int64Ptr(1)},
		{ID: 101, CharName: "Valeria", Guild: int64Ptr(1)},
		{ID: 200, CharName: "Thoth", Guild: int64Ptr(2)},
		{ID: 300, CharName: "Loner", Guild: nil},
	}).Error)
	require.NoError(t, db.Create(&[]model.Building{
		{ObjectID: 10, OwnerID: 1},
		{ObjectID: 20, OwnerID: 2},
		{ObjectID: 30, OwnerID: 100}, // owned by a character, not a guild
	}).Error)
	require.NoError(t, db.Create(&[]model.BuildingInstance{
		{ObjectID: 10, InstanceID: 1, Transform1: transformAt(0, 0, 0)},
		{ObjectID: 10, InstanceID: 2, Transform1: transformAt(2, 0, 0)},
		{ObjectID: 10, InstanceID: 3, Transform1: transformAt(4, 0, 0)},
		{ObjectID: 20, InstanceID: 1, Transform1: transformAt(-100, 50, 10)},
		{ObjectID: 30, InstanceID: 1, Transform1: transformAt(1, 1, 1)},
	}).Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return path
}

func openFixture(t *testing.T) *GameDB {
	t.Helper()
	g, err := OpenGameDB(writeGameDB(t), DefaultBusyTimeout, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGameDB_Pieces(t *testing.T) {
	g := openFixture(t)

	perClan := map[int64]int{}
	for row, err := range g.Pieces(context.Background()) {
		require.NoError(t, err)
		assert.Len(t, row.Transform, geo.TransformSize)
		perClan[row.ClanID]++
	}

	assert.Equal(t, map[int64]int{1: 3, 2: 1}, perClan)
}

func TestGameDB_Members(t *testing.T) {
	g := openFixture(t)

	var rows []core.MemberRow
	for row, err := range g.Members(context.Background()) {
		require.NoError(t, err)
		rows = append(rows, row)
	}

	assert.ElementsMatch(t, []core.MemberRow{
		{ClanID: 1, PlayerID: 100, PlayerName: "Conan", IsOwner: true},
		{ClanID: 1, PlayerID: 101, PlayerName: "Valeria", IsOwner: false},
		{ClanID: 2, PlayerID: 200, PlayerName: "Thoth", IsOwner: false},
	}, rows)
}

func TestGameDB_EarlyBreakClosesRows(t *testing.T) {
	g := openFixture(t)

	for range 3 {
		n := 0
		for _, err := range g.Pieces(context.Background()) {
			require.NoError(t, err)
			n++
			break
		}
		assert.Equal(t, 1, n)
	}
}

func countPieces(t *testing.T, g *GameDB) int {
	t.Helper()
	n := 0
	for _, err := range g.Pieces(context.Background()) {
		require.NoError(t, err)
		n++
	}
	return n
}

func execFixture(t *testing.T, path string, sql string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Exec(sql).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestGameDB_ReadsReplacedFile(t *testing.T) {
	g := openFixture(t)
	require.Equal(t, 4, countPieces(t, g))

	// the game server saves by writing a new file and renaming it over the old one
	next := writeGameDB(t)
	execFixture(t, next, "INSERT INTO building_instances (object_id, instance_id, transform1) VALUES (20, 2, x'"+
		hexBytes(transformAt(-90, 50, 10))+"')")
	require.NoError(t, os.Rename(next, g.Path()))

	assert.Equal(t, 5, countPieces(t, g))
}

func TestGameDB_NullNames(t *testing.T) {
	path := writeGameDB(t)
	execFixture(t, path, "UPDATE guilds SET name = NULL WHERE guildId = 2")
	execFixture(t, path, "UPDATE characters SET char_name = NULL WHERE id = 101")

	g, err := OpenGameDB(path, DefaultBusyTimeout, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close()

	names := map[int64]string{}
	for row, err := range g.Pieces(context.Background()) {
		require.NoError(t, err)
		names[row.ClanID] = row.ClanName
	}
	assert.Equal(t, map[int64]string{1: "Vikings", 2: ""}, names)

	var members []core.MemberRow
	for row, err := range g.Members(context.Background()) {
		require.NoError(t, err)
		members = append(members, row)
	}
	assert.Contains(t, members, core.MemberRow{ClanID: 1, PlayerID: 101, PlayerName: "", IsOwner: false})
}

func hexBytes(b []byte) string {
	return fmt.Sprintf("%x", b)
}

func TestGameDB_MissingTableYieldsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE unrelated (id INTEGER)").Error)
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())

	g, err := OpenGameDB(path, DefaultBusyTimeout, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close()

	var gotErr error
	for _, err := range g.Pieces(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "no such table")
}

func TestOpenGameDB_MissingFile(t *testing.T) {
	_, err := OpenGameDB(filepath.Join(t.TempDir(), "nope.db"), DefaultBusyTimeout, zerolog.Nop())
	require.Error(t, err)
}

func TestManager_SqliteFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	m := NewManager(zerolog.Nop(), path)

	require.NoError(t, m.Connect(nil))
	defer m.Close()

	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)
	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&model.RefreshRun{}))
	assert.True(t, m.DB.Migrator().HasTable(&model.BaseSnapshot{}))
}

func TestManager_PostgresUnreachableFallsBack(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")

	err := m.Connect(&PostgresConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Password: "postgres",
		Database: "clanmap",
	})
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.ShouldSaveLocal)
	assert.Equal(t, "sqlite", m.DB.Dialector.Name())
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Username: "u", Password: "p", Database: "d"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
