package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/deck-notify/internal/model"
)

// ConnectivityError indicates a transport-level failure talking to the task
// source. The sync engine treats it as cycle-level: nothing was written, so
// the whole cycle is retried after the poll interval.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("task source unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsConnectivityError reports whether err (or any error in its chain) is a
// ConnectivityError.
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// Fetcher is the task-source boundary the sync engine depends on.
type Fetcher interface {
	// FetchAll yields the current full set of tasks with normalized
	// fields. It may fail with a ConnectivityError; the caller retries.
	FetchAll(ctx context.Context) ([]model.TaskSnapshot, error)

	// Relocate moves a card into the target column on its board.
	Relocate(ctx context.Context, boardID, cardID, targetStackID int64) error
}
