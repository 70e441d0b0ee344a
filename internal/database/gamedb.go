package database

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/clanmap/clanmap/pkg/core"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultBusyTimeout is how long a query waits for the game server to release a lock
const DefaultBusyTimeout = 5 * time.Second

const piecesQuery = `
SELECT
	g.guildId AS clan_id,
	COALESCE(g.name, '') AS clan_name,
	bi.transform1 AS transform
FROM building_instances AS bi
	INNER JOIN buildings AS b ON bi.object_id = b.object_id
	INNER JOIN guilds AS g ON b.owner_id = g.guildId`

const membersQuery = `
SELECT
	c.guild AS clan_id,
	c.id AS player_id,
	COALESCE(c.char_name, '') AS player_name,
	COALESCE(c.id = g.owner, 0) AS is_owner
FROM characters AS c
	INNER JOIN guilds AS g ON c.guild = g.guildId`

// GameDB reads clan data from a dedicated server's game.db.
// The file is opened read-only, the game server stays the only writer.
type GameDB struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	path   string
	logger zerolog.Logger
}

// OpenGameDB opens path read-only.
func OpenGameDB(path string, busyTimeout time.Duration, log zerolog.Logger) (*GameDB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(%d)", filepath.ToSlash(abs), busyTimeout.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening game db %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	// The game server replaces the file on save. Pooled connections would
	// keep reading the unlinked inode, so each query opens the path again.
	sqlDB.SetMaxIdleConns(0)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("opening game db %s: %w", path, err)
	}

	log.Info().Str("path", abs).Msg("Opened game database")
	return &GameDB{db: db, sqlDB: sqlDB, path: abs, logger: log}, nil
}

// Path returns the absolute path of the database file.
func (g *GameDB) Path() string {
	return g.path
}

// Pieces streams every building piece owned by a guild.
func (g *GameDB) Pieces(ctx context.Context) iter.Seq2[core.PieceRow, error] {
	return streamRows(ctx, g.db, piecesQuery, func(rows *sql.Rows) (core.PieceRow, error) {
		var r core.PieceRow
		err := rows.Scan(&r.ClanID, &r.ClanName, &r.Transform)
		return r, err
	})
}

// Members streams every character that belongs to a guild.
func (g *GameDB) Members(ctx context.Context) iter.Seq2[core.MemberRow, error] {
	return streamRows(ctx, g.db, membersQuery, func(rows *sql.Rows) (core.MemberRow, error) {
		var r core.MemberRow
		err := rows.Scan(&r.ClanID, &r.PlayerID, &r.PlayerName, &r.IsOwner)
		return r, err
	})
}

// Close releases the connection pool.
func (g *GameDB) Close() error {
	g.logger.Debug().Str("path", g.path).Msg("Closing game database")
	return g.sqlDB.Close()
}

// streamRows runs query once and yields scanned rows until the result set
// ends, scanning fails or the consumer stops.
func streamRows[T any](ctx context.Context, db *gorm.DB, query string, scan func(*sql.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, err := db.WithContext(ctx).Raw(query).Rows()
		if err != nil {
			yield(zero, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scan(rows)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, err)
		}
	}
}
