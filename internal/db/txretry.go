/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/friendsincode/memequeue/internal/telemetry"
	"gorm.io/gorm"
)

// ErrConflict signals that a guarded conditional write inside a transaction
// observed zero affected rows for a row it had just read. Returning it from
// the transaction function rolls the attempt back and re-runs the whole
// transaction from a fresh read.
var ErrConflict = errors.New("conflicting concurrent write")

const (
	maxAttempts = 5
	baseBackoff = 10 * time.Millisecond
	maxBackoff  = 320 * time.Millisecond
)

// RunSerializable executes fn inside a serializable transaction, retrying
// the whole transaction on serialization conflicts, deadlocks and
// application-level ErrConflict signals. Non-transient errors are returned
// unchanged after the first attempt; transient ones only after retries are
// exhausted.
func RunSerializable(ctx context.Context, database *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			telemetry.TxRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffFor(attempt)):
			}
		}

		err = database.WithContext(ctx).Transaction(fn, &sql.TxOptions{
			Isolation: sql.LevelSerializable,
		})
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}

// IsRetryable reports whether err is a transient conflict worth re-running
// the transaction for.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}

	msg := err.Error()
	switch {
	// postgres: serialization_failure, deadlock_detected
	case strings.Contains(msg, "SQLSTATE 40001"), strings.Contains(msg, "SQLSTATE 40P01"):
		return true
	// mysql: ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
	case strings.Contains(msg, "Error 1213"), strings.Contains(msg, "Error 1205"):
		return true
	// sqlite under concurrent writers
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return true
	}
	return false
}

// backoffFor returns a jittered exponential delay for the given attempt.
func backoffFor(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	// full jitter keeps concurrent retriers from re-colliding in lockstep
	return time.Duration(rand.Int63n(int64(d))) + d/2
}
