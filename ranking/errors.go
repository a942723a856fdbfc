/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package ranking

import (
	"errors"
	"fmt"
)

var (
	// ErrDataSourceUnreachable covers transport failures and unusable
	// responses from the bracket provider. Retrying later may succeed.
	ErrDataSourceUnreachable = errors.New("data source unreachable")
	// ErrTournamentNotFound means the provider answered but the tournament
	// identifier does not resolve.
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrPersistenceFailure wraps store errors. In-memory state remains valid.
	ErrPersistenceFailure = errors.New("persistence failure")

	ErrAlreadyImported       = errors.New("tournament already imported")
	ErrTournamentNotImported = errors.New("tournament not imported")
	ErrUnknownPlayer         = errors.New("unknown player")
	ErrInvalidTournamentRef  = errors.New("invalid tournament reference")
)

// ImportError reports which tournament failed to import.
type ImportError struct {
	Tournament string
	Err        error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("importing tournament %q: %v", e.Tournament, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %v: %w", ErrPersistenceFailure, op, err)
}
