// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// Sentinel errors returned by the store.
var (
	// ErrNotFound indicates the requested entry does not exist (or has been
	// evicted at read time).
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the entry exists but its TTL has passed.
	ErrExpired = errors.New("expired")

	// ErrAlreadyExists indicates a uniqueness violation on insert.
	ErrAlreadyExists = errors.New("already exists")
)
