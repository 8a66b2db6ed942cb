package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ferro-labs/agent-router/internal/configstore"
	"github.com/ferro-labs/agent-router/internal/usage"
)

// openUsageStore builds the usage ledger selected by s.UsageDriver.
func openUsageStore(s settings) (usage.Store, error) {
	var (
		st  *usage.SQLStore
		err error
	)
	switch s.UsageDriver {
	case driverSQLite, "":
		dsn := s.UsageDSN
		if dsn == "" {
			if err := os.MkdirAll(s.Home, 0o700); err != nil {
				return nil, fmt.Errorf("create %s: %w", s.Home, err)
			}
			dsn = s.usageDBPath()
		}
		st, err = usage.NewSQLiteStore(dsn, s.Retention)
	case driverPostgres:
		st, err = usage.NewPostgresStore(s.UsageDSN, s.Retention)
	case driverMemory:
		return usage.NewMemory(s.Retention), nil
	default:
		return nil, fmt.Errorf("unsupported USAGE_DB_DRIVER %q (want sqlite, postgres or memory)", s.UsageDriver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openConfigBackend builds the config backend selected by s.ConfigDriver.
// The returned closer is nil for the file backend.
func openConfigBackend(s settings) (configstore.Backend, io.Closer, error) {
	var (
		b   *configstore.SQLBackend
		err error
	)
	switch s.ConfigDriver {
	case driverFile, "":
		path := s.ConfigDSN
		if path == "" {
			path = s.configPath()
		}
		return configstore.NewFileBackend(path), nil, nil
	case driverSQLite:
		dsn := s.ConfigDSN
		if dsn == "" {
			if err := os.MkdirAll(s.Home, 0o700); err != nil {
				return nil, nil, fmt.Errorf("create %s: %w", s.Home, err)
			}
			dsn = filepath.Join(s.Home, "config.db")
		}
		b, err = configstore.NewSQLiteBackend(dsn)
	case driverPostgres:
		b, err = configstore.NewPostgresBackend(s.ConfigDSN)
	default:
		return nil, nil, fmt.Errorf("unsupported CONFIG_STORE %q (want file, sqlite or postgres)", s.ConfigDriver)
	}
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}
