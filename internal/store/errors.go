package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mchatly/livechat/internal/domain"
)

// WrapError wraps an error with an operation context.
func WrapError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// WrapNotFound wraps an error, converting pgx.ErrNoRows to domain.ErrNotFound.
func WrapNotFound(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return WrapError(operation, err)
}
