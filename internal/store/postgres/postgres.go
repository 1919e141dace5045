package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const lineColumns = `line_id, table_id, seat_id, product_code, description,
	unit_price, quantity, free_quantity, discount_percent, discount_amount, line_amount,
	origin_tag, location_code, receipt_id, salesman_id, needs_kitchen_print, created_at, updated_at`

func scanLine(row interface{ Scan(...any) error }) (*domain.OrderLine, error) {
	var line domain.OrderLine
	var seatID sql.NullString
	var receiptID sql.NullString
	err := row.Scan(
		&line.LineID, &line.TableID, &seatID, &line.ProductCode, &line.Description,
		&line.UnitPrice, &line.Quantity, &line.FreeQuantity, &line.DiscountPercent,
		&line.DiscountAmount, &line.LineAmount,
		&line.OriginTag, &line.LocationCode, &receiptID, &line.SalesmanID,
		&line.NeedsKitchenPrint, &line.CreatedAt, &line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	line.SeatID = seatID.String
	if receiptID.Valid {
		receipt := receiptID.String
		line.ReceiptID = &receipt
	}
	line.CreatedAt = line.CreatedAt.UTC()
	line.UpdatedAt = line.UpdatedAt.UTC()
	return &line, nil
}

func (s *Store) InsertLine(ctx context.Context, line domain.OrderLine) (*domain.OrderLine, error) {
	if line.TableID == "" || line.LineID == 0 {
		return nil, store.ErrInvalidLine
	}

	now := time.Now().UTC()
	line.ReceiptID = nil
	line.CreatedAt = now
	line.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_lines (line_id, table_id, seat_id, product_code, description,
			unit_price, quantity, free_quantity, discount_percent, discount_amount, line_amount,
			origin_tag, location_code, receipt_id, salesman_id, needs_kitchen_print, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULL,$14,$15,$16,$17)
	`, line.LineID, line.TableID, line.SeatID, line.ProductCode, line.Description,
		line.UnitPrice, line.Quantity, line.FreeQuantity, line.DiscountPercent,
		line.DiscountAmount, line.LineAmount,
		string(line.OriginTag), line.LocationCode, line.SalesmanID,
		line.NeedsKitchenPrint, line.CreatedAt, line.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateLine
		}
		return nil, wrapUnavailable(err)
	}

	created := line
	return &created, nil
}

func (s *Store) GetLine(ctx context.Context, tableID string, lineID int64) (*domain.OrderLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_lines
		WHERE table_id = $1 AND line_id = $2
	`, tableID, lineID)

	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	return line, nil
}

func (s *Store) UpdateLine(ctx context.Context, line domain.OrderLine) (*domain.OrderLine, error) {
	line.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE order_lines
		SET seat_id = NULLIF($3,''), product_code = $4, description = $5,
			unit_price = $6, quantity = $7, free_quantity = $8,
			discount_percent = $9, discount_amount = $10, line_amount = $11,
			updated_at = $12
		WHERE table_id = $1 AND line_id = $2
	`, line.TableID, line.LineID, line.SeatID, line.ProductCode, line.Description,
		line.UnitPrice, line.Quantity, line.FreeQuantity,
		line.DiscountPercent, line.DiscountAmount, line.LineAmount,
		line.UpdatedAt)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := line
	return &updated, nil
}

func (s *Store) DeleteLine(ctx context.Context, tableID string, lineID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM order_lines
		WHERE table_id = $1 AND line_id = $2
	`, tableID, lineID)
	if err != nil {
		return wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLinesByTable(ctx context.Context, tableID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_lines
		WHERE table_id = $1
		ORDER BY seq DESC
	`, tableID)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 16)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return lines, nil
}

func (s *Store) ClearTable(ctx context.Context, tableID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM order_lines
		WHERE table_id = $1
	`, tableID)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) OccupiedTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT table_id
		FROM order_lines
		ORDER BY table_id
	`)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	tables := make([]string, 0, 32)
	for rows.Next() {
		var tableID string
		if err := rows.Scan(&tableID); err != nil {
			return nil, err
		}
		tables = append(tables, tableID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return tables, nil
}

func (s *Store) AssignReceipt(ctx context.Context, tableID string, receiptID string, salesmanID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE order_lines
		SET receipt_id = $2, salesman_id = $3, updated_at = $4
		WHERE table_id = $1
	`, tableID, receiptID, salesmanID, time.Now().UTC())
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, store.ErrNoStagedOrder
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapUnavailable(err)
	}
	return int(affected), nil
}

func (s *Store) GetSequence(ctx context.Context) (domain.SequenceState, error) {
	var state domain.SequenceState
	err := s.db.QueryRowContext(ctx, `
		SELECT unit_prefix, counter
		FROM receipt_sequence
		WHERE id = 1
	`).Scan(&state.UnitPrefix, &state.Counter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SequenceState{}, store.ErrNotFound
		}
		return domain.SequenceState{}, wrapUnavailable(err)
	}
	return state, nil
}

func (s *Store) SetSequenceCounter(ctx context.Context, counter uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipt_sequence
		SET counter = $1, updated_at = now()
		WHERE id = 1
	`, counter)
	if err != nil {
		return wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EnsureSequence seeds the singleton counter row on first boot. It never
// touches an existing row, so redeploys cannot reset the counter.
func (s *Store) EnsureSequence(ctx context.Context, unitPrefix string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_sequence (id, unit_prefix, counter, updated_at)
		VALUES (1, $1, 0, now())
		ON CONFLICT (id) DO NOTHING
	`, unitPrefix)
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *Store) GetSalesman(ctx context.Context, code string) (*domain.Salesman, error) {
	var salesman domain.Salesman
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, password_hash, role, location_code, blacklisted, suspended, created_at
		FROM salesmen
		WHERE code = $1
	`, code).Scan(&salesman.Code, &salesman.Name, &salesman.PasswordHash, &salesman.Role,
		&salesman.LocationCode, &salesman.Blacklisted, &salesman.Suspended, &salesman.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	salesman.CreatedAt = salesman.CreatedAt.UTC()
	return &salesman, nil
}

func (s *Store) CreateSalesman(ctx context.Context, salesman domain.Salesman) error {
	if salesman.Code == "" {
		return store.ErrInvalidLine
	}
	if salesman.CreatedAt.IsZero() {
		salesman.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO salesmen (code, name, password_hash, role, location_code, blacklisted, suspended, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, salesman.Code, salesman.Name, salesman.PasswordHash, salesman.Role,
		salesman.LocationCode, salesman.Blacklisted, salesman.Suspended, salesman.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateLine
		}
		return wrapUnavailable(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// wrapUnavailable converts connectivity-level failures into the stable
// ErrStoreUnavailable kind so callers fail fast instead of retrying.
// Query-level errors pass through unchanged.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return err
}
