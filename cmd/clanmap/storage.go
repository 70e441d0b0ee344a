package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/clanmap/clanmap/internal/config"
	"github.com/clanmap/clanmap/internal/database"
	"github.com/clanmap/clanmap/internal/history"
	"github.com/clanmap/clanmap/internal/influx"
	"github.com/clanmap/clanmap/internal/registry"
)

// observers are the optional sinks of refresh results
type observers struct {
	History   *history.Store
	historyDB *database.Manager
	Influx    *influx.Manager
}

func (o *observers) List() []registry.Observer {
	var out []registry.Observer
	if o.History != nil {
		out = append(out, o.History)
	}
	if o.Influx != nil {
		out = append(out, o.Influx)
	}
	return out
}

func (o *observers) Close() error {
	var errs []error
	if o.Influx != nil {
		errs = append(errs, o.Influx.Close())
	}
	if o.historyDB != nil {
		errs = append(errs, o.historyDB.Close())
	}
	return errors.Join(errs...)
}

func initObservers(ctx context.Context) (*observers, error) {
	obs := &observers{}

	if config.GetHistoryConfig().Enabled {
		mgr, err := connectHistoryDB()
		if err != nil {
			return nil, err
		}
		obs.historyDB = mgr
		obs.History = newHistoryStore(mgr)
		Logger.Info("History store initialized", "local", mgr.ShouldSaveLocal)
	}

	if ic := config.GetInfluxConfig(); ic.Enabled {
		backup := filepath.Join(config.GetString("logsDir"), fmt.Sprintf("influx_backup_%s.log.gz", SessionStartTime.Format("20060102_150405")))
		m := influx.NewManager(StoreLogger.With().Str("component", "influx").Logger(), ic, backup)
		if err := m.Connect(ctx); err != nil {
			obs.Close()
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		obs.Influx = m
	}

	return obs, nil
}

func newHistoryStore(mgr *database.Manager) *history.Store {
	return history.New(mgr.DB, StoreLogger.With().Str("component", "history").Logger())
}

func connectHistoryDB() (*database.Manager, error) {
	hc := config.GetHistoryConfig()
	mgr := database.NewManager(StoreLogger.With().Str("component", "database").Logger(), hc.SqlitePath)

	var pg *database.PostgresConfig
	if hc.Type == "postgres" {
		dc := config.GetDBConfig()
		pg = &database.PostgresConfig{
			Host:     dc.Host,
			Port:     dc.Port,
			Username: dc.Username,
			Password: dc.Password,
			Database: dc.Database,
		}
	}

	if err := mgr.Connect(pg); err != nil {
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	if err := mgr.Setup(); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("setting up history database: %w", err)
	}
	return mgr, nil
}
