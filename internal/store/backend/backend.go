// Package backend opens a store.Store for a configured driver name.
package backend

import (
	"fmt"

	"github.com/pliu/cipherchat/internal/store"
	"github.com/pliu/cipherchat/internal/store/boltstore"
	"github.com/pliu/cipherchat/internal/store/memstore"
	"github.com/pliu/cipherchat/internal/store/sqlstore"
)

// Open returns the store for driver: "memory", "sqlite3", "postgres" or
// "bolt". dsn is the database path or connection string.
func Open(driver, dsn string) (store.Store, error) {
	switch driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite3", "postgres":
		return sqlstore.New(driver, dsn)
	case "bolt":
		return boltstore.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
