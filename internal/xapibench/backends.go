package xapibench

import (
	"fmt"

	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/backend/mongostore"
	"github.com/nsqlite/xapibench/internal/xapibench/backend/ralphstore"
	"github.com/nsqlite/xapibench/internal/xapibench/backend/sqlstore"
	"github.com/nsqlite/xapibench/internal/xapibench/config"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
)

// newDriver builds the driver for cfg.Kind. It does not connect.
func newDriver(cfg config.Config, logger log.Logger) (backend.Driver, error) {
	switch cfg.Kind {
	case backend.ClickHouse:
		return sqlstore.NewClickHouse(sqlOptions(cfg), logger), nil
	case backend.Citus:
		return sqlstore.NewCitus(sqlOptions(cfg), logger), nil
	case backend.SQLite:
		return sqlstore.NewSQLite(cfg.SQLiteDSN(), logger), nil
	case backend.Mongo:
		return mongostore.New(mongostore.Options{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
		}, logger), nil
	case backend.Ralph:
		opts := ralphstore.DefaultOptions()
		opts.URL = fmt.Sprintf("http://%s", cfg.Target())
		opts.Username = cfg.Username
		opts.Password = cfg.Password
		opts.ChunkSize = cfg.LRSChunkSize
		opts.Timeout = cfg.RequestTimeout
		return ralphstore.New(opts, logger)
	}
	return nil, fault.Errorf(fault.InvalidConfiguration, "select_backend", "unsupported backend %q", cfg.Kind.Value)
}

func sqlOptions(cfg config.Config) sqlstore.Options {
	return sqlstore.Options{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
	}
}

// newLake wraps the driver for cfg.Kind in a Lake.
func newLake(cfg config.Config, logger log.Logger) (*backend.Lake, error) {
	driver, err := newDriver(cfg, logger)
	if err != nil {
		return nil, err
	}
	return backend.NewLake(cfg.Kind, driver, logger), nil
}
