package main

import (
	"fmt"
	"path/filepath"

	"aging.ai/internal/persistence/indexdb"
	"aging.ai/internal/sim/catalogs"
	"aging.ai/internal/sim/tuning"
	"aging.ai/internal/transport/ws"
)

type runtimeIndex interface {
	ws.Index
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
}

func openRuntimeIndex(dataDir, backend string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "aging.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported AGING_INDEX_BACKEND: %s", backend)
	}
}
