package storage

import (
	"context"
	"fmt"
	"strings"

	"txrelay/internal/application"
)

// Store is what the relayer needs from a persistence backend.
type Store interface {
	application.TransactionRepository
	Ping(ctx context.Context) error
	Close() error
}

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

func ParseDriver(raw string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DriverSQLite:
		return DriverSQLite, nil
	case DriverMySQL:
		return DriverMySQL, nil
	case DriverPostgres, "postgresql", "pg":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", raw)
	}
}

// DefaultDSN returns the DSN used when none is configured for driver.
func DefaultDSN(driver Driver) string {
	switch driver {
	case DriverMySQL:
		return "root:@tcp(127.0.0.1:3306)/txrelay?parseTime=true"
	case DriverPostgres:
		return "postgres://postgres@127.0.0.1:5432/txrelay?sslmode=disable"
	default:
		return "txrelay.db"
	}
}
