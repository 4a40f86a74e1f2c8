package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"weather-ingest/internal/models"
)

// PostgreSQL error codes relevant to store error classification.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation  = "23505"
	pqQueryCanceled    = "57014"
	pqAdminShutdown    = "57P01"
	pqCrashShutdown    = "57P02"
	pqCannotConnectNow = "57P03"
	pqConnectionClass  = "08"
	pqIntegrityClass   = "23"
)

// classifyStoreError maps a driver-level failure to the closed StoreError set
// callers branch on: connection loss and timeouts are transient, constraint
// violations indicate an invariant breach and are never retried. Errors that
// fit no kind (a malformed query, a caller-initiated cancellation) are wrapped
// plainly and treated as permanent by callers.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &models.StoreError{Kind: models.KindTimeout, Op: op, Err: err}
	}

	// Caller-initiated cancellation is not a timeout; retrying it would be wrong.
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("store %s failed: %w", op, err)
	}

	if errors.Is(err, driver.ErrBadConn) {
		return &models.StoreError{Kind: models.KindConnectionUnavailable, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &models.StoreError{Kind: models.KindTimeout, Op: op, Err: err}
		}
		return &models.StoreError{Kind: models.KindConnectionUnavailable, Op: op, Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqQueryCanceled:
			return &models.StoreError{Kind: models.KindTimeout, Op: op, Err: err}

		case pqErr.Code == pqAdminShutdown,
			pqErr.Code == pqCrashShutdown,
			pqErr.Code == pqCannotConnectNow,
			pqErr.Code.Class() == pqConnectionClass:
			return &models.StoreError{Kind: models.KindConnectionUnavailable, Op: op, Err: err}

		case pqErr.Code == pqUniqueViolation,
			pqErr.Code.Class() == pqIntegrityClass:
			return &models.StoreError{Kind: models.KindConstraintViolation, Op: op, Err: err}
		}
	}

	return fmt.Errorf("store %s failed: %w", op, err)
}
