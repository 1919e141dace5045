package store

import (
	"context"
	"errors"

	"pesanaja/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateLine     = errors.New("duplicate line")
	ErrNoStagedOrder     = errors.New("no staged order")
	ErrSequenceExhausted = errors.New("receipt sequence exhausted")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidLine       = errors.New("invalid line")
)

// Repository is the persistence contract for the staging subsystem.
// Implementations must reject an InsertLine whose (table, line) key already
// exists and must apply AssignReceipt and ClearTable atomically per table.
type Repository interface {
	InsertLine(ctx context.Context, line domain.OrderLine) (*domain.OrderLine, error)
	GetLine(ctx context.Context, tableID string, lineID int64) (*domain.OrderLine, error)
	UpdateLine(ctx context.Context, line domain.OrderLine) (*domain.OrderLine, error)
	DeleteLine(ctx context.Context, tableID string, lineID int64) error
	ListLinesByTable(ctx context.Context, tableID string) ([]domain.OrderLine, error)
	ClearTable(ctx context.Context, tableID string) (int, error)
	OccupiedTables(ctx context.Context) ([]string, error)
	AssignReceipt(ctx context.Context, tableID string, receiptID string, salesmanID string) (int, error)

	GetSequence(ctx context.Context) (domain.SequenceState, error)
	SetSequenceCounter(ctx context.Context, counter uint64) error
	EnsureSequence(ctx context.Context, unitPrefix string) error

	GetSalesman(ctx context.Context, code string) (*domain.Salesman, error)
	CreateSalesman(ctx context.Context, salesman domain.Salesman) error
}
