package db

import (
	"strings"

	"github.com/hokuto/pressbeat/errors"
)

// ErrDatabaseClosed indicates an operation was attempted on a closed database
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err stems from using a closed connection
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
