package storage

import (
	"errors"
	"strings"

	logx "igmonitor/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
