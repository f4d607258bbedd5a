// package repositories provides persistence layer implementations for the sync engine's collections.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// MaxBatchSize is the largest number of operations accepted by a single atomic batch.
const MaxBatchSize = 500

// Clock returns the time used for store-assigned timestamps.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// scanner is satisfied by both [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// OpKind distinguishes the operations a batch may contain.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one keyed write inside a mirror batch.
type Op struct {
	Kind    OpKind
	TrackID string
	Item    *models.LibraryItem // set for OpUpsert
}

// UpsertOp builds an upsert of item keyed by its TrackID.
func UpsertOp(item models.LibraryItem) Op {
	return Op{Kind: OpUpsert, TrackID: item.TrackID, Item: &item}
}

// DeleteOp builds a delete of trackID.
func DeleteOp(trackID string) Op {
	return Op{Kind: OpDelete, TrackID: trackID}
}

func notFound(what, key string) error {
	return fmt.Errorf("%w: %s %s", shared.ErrNotFound, what, key)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
