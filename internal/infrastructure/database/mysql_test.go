package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"opay/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.MySQLConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "opay",
		Password: "p@ss:word",
		Database: "wallet",
	})
	assert.Contains(t, dsn, "opay:p@ss:word@tcp(db.internal:3307)/wallet?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
