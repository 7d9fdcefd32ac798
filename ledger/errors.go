// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "errors"

var (
	// ErrBudgetNotFound is returned when an agent has no budget.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrBudgetExists is returned when creating a budget that already exists.
	ErrBudgetExists = errors.New("budget already exists")

	// ErrBudgetExceeded is returned at admission when committed spend
	// plus outstanding reservations cannot cover the estimate.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrReservationNotFound is returned for reservation ids that were
	// never issued.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationResolved is returned for a commit or release on a
	// reservation that was already resolved. Reservations resolve
	// exactly once; duplicates must not adjust spend again.
	ErrReservationResolved = errors.New("reservation already resolved")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)
