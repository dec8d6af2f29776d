package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = model.ErrNotFound

// errDBClosedText is what database/sql returns after Close; the sentinel
// itself is unexported.
const errDBClosedText = "sql: database is closed"

// isUnavailable reports whether err means the backend could not be reached
// or is locked past its busy timeout, as opposed to the query itself being
// rejected.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if sqliteBusy(err) || errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), errDBClosedText) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// wrap prefixes err with the operation name and tags backend outages with
// model.ErrUnavailable so callers can surface a retryable error.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("storage: %s: %w: %w", op, model.ErrUnavailable, err)
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
