package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clanmap/clanmap/pkg/core"
	"github.com/spf13/viper"
)

// FileName is the name of the config file looked up in the config directory
const FileName = "clanmap.cfg.json"

// ErrInvalidMapType is returned for a database entry with an unknown type
var ErrInvalidMapType = errors.New("invalid map type")

// MapConfig is one entry of the "databases" section
type MapConfig struct {
	Name string       `json:"name" mapstructure:"name"`
	File string       `json:"file" mapstructure:"file"`
	Type core.MapType `json:"type" mapstructure:"type"`
}

// Entry converts the config into a map entry with the given id.
func (c MapConfig) Entry(id string) core.MapEntry {
	return core.MapEntry{
		ID:          id,
		DisplayName: c.Name,
		SourcePath:  c.File,
		Type:        c.Type,
	}
}

// NamedMap is a MapConfig together with its id
type NamedMap struct {
	ID string
	MapConfig
}

// InfluxConfig holds InfluxDB metrics settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the server address of InfluxDB.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// HistoryConfig holds settings for the base history store
type HistoryConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Type       string `json:"type" mapstructure:"type"`
	SqlitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// GraylogConfig holds the GELF log sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("port", 3000)
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("staticDir", "./public")
	viper.SetDefault("refreshDelay", "5s")
	viper.SetDefault("busyTimeout", "5s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "clanmap")
	viper.SetDefault("influx.bucket", "clanmap")

	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.type", "sqlite")
	viper.SetDefault("history.sqlitePath", "./history.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "clanmap")

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetRefreshDelay returns the quiet period of the refresh scheduler.
func GetRefreshDelay() time.Duration {
	return viper.GetDuration("refreshDelay")
}

// GetBusyTimeout returns how long game.db queries wait on a locked database.
func GetBusyTimeout() time.Duration {
	return viper.GetDuration("busyTimeout")
}

// GetMaps returns the configured databases sorted by id.
// Ids are lower case, viper folds keys.
func GetMaps() ([]NamedMap, error) {
	var raw map[string]MapConfig
	if err := viper.UnmarshalKey("databases", &raw); err != nil {
		return nil, fmt.Errorf("error decoding databases: %w", err)
	}

	maps := make([]NamedMap, 0, len(raw))
	for id, cfg := range raw {
		if !cfg.Type.Valid() {
			return nil, fmt.Errorf("%w: %q for map %s", ErrInvalidMapType, cfg.Type, id)
		}
		if cfg.File == "" {
			return nil, fmt.Errorf("map %s: no database file configured", id)
		}
		if cfg.Name == "" {
			cfg.Name = id
		}
		maps = append(maps, NamedMap{ID: id, MapConfig: cfg})
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].ID < maps[j].ID })
	return maps, nil
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetHistoryConfig returns the history store settings.
func GetHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:    viper.GetBool("history.enabled"),
		Type:       viper.GetString("history.type"),
		SqlitePath: viper.GetString("history.sqlitePath"),
	}
}

// GetDBConfig returns the Postgres settings used by the history store.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
