package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/store"
)

type tableKey struct {
	tableID string
	lineID  int64
}

type Store struct {
	mu             sync.RWMutex
	lines          map[tableKey]domain.OrderLine
	insertOrder    map[string][]int64 // per table, lineIDs in insertion order
	sequence       domain.SequenceState
	sequenceReady  bool
	salesmenByCode map[string]domain.Salesman
}

func New() *Store {
	return &Store{
		lines:          make(map[tableKey]domain.OrderLine),
		insertOrder:    make(map[string][]int64),
		salesmenByCode: make(map[string]domain.Salesman),
	}
}

// seedSalesmen builds the initial in-memory staff accounts for dev/demo
// mode. Passwords come from SEED_WAITER_PASSWORD and SEED_MANAGER_PASSWORD;
// if unset, hardcoded dev defaults are used with a warning. These are never
// used in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedSalesmen() map[string]domain.Salesman {
	waiterPwd := envOr("SEED_WAITER_PASSWORD", "waiter123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	if os.Getenv("SEED_WAITER_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_WAITER_PASSWORD and SEED_MANAGER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	salesmen := map[string]domain.Salesman{}
	for _, s := range []struct {
		code     string
		name     string
		password string
		role     string
		location string
	}{
		{"S001", "Dewi", waiterPwd, "waiter", "01"},
		{"S002", "Rizal", waiterPwd, "waiter", "02"},
		{"M001", "Pak Agus", managerPwd, "manager", "01"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(s.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", s.code, err)
		}
		salesmen[s.code] = domain.Salesman{
			Code:         s.code,
			Name:         s.name,
			PasswordHash: string(hash),
			Role:         s.role,
			LocationCode: s.location,
			CreatedAt:    now,
		}
	}
	return salesmen
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store pre-loaded with demo salesmen and an initial
// receipt sequence for the given unit prefix.
func NewSeeded(unitPrefix string) *Store {
	s := New()
	s.salesmenByCode = seedSalesmen()
	s.sequence = domain.SequenceState{UnitPrefix: unitPrefix}
	s.sequenceReady = true
	return s
}

func (s *Store) InsertLine(_ context.Context, line domain.OrderLine) (*domain.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.TableID == "" || line.LineID == 0 {
		return nil, store.ErrInvalidLine
	}
	key := tableKey{tableID: line.TableID, lineID: line.LineID}
	if _, exists := s.lines[key]; exists {
		return nil, store.ErrDuplicateLine
	}

	now := time.Now().UTC()
	line.ReceiptID = nil
	line.CreatedAt = now
	line.UpdatedAt = now
	s.lines[key] = line
	s.insertOrder[line.TableID] = append(s.insertOrder[line.TableID], line.LineID)

	created := line
	return &created, nil
}

func (s *Store) GetLine(_ context.Context, tableID string, lineID int64) (*domain.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, exists := s.lines[tableKey{tableID: tableID, lineID: lineID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := line
	return &found, nil
}

func (s *Store) UpdateLine(_ context.Context, line domain.OrderLine) (*domain.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tableKey{tableID: line.TableID, lineID: line.LineID}
	existing, exists := s.lines[key]
	if !exists {
		return nil, store.ErrNotFound
	}

	line.CreatedAt = existing.CreatedAt
	line.UpdatedAt = time.Now().UTC()
	s.lines[key] = line

	updated := line
	return &updated, nil
}

func (s *Store) DeleteLine(_ context.Context, tableID string, lineID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tableKey{tableID: tableID, lineID: lineID}
	if _, exists := s.lines[key]; !exists {
		return store.ErrNotFound
	}
	delete(s.lines, key)

	order := s.insertOrder[tableID]
	if idx := slices.Index(order, lineID); idx >= 0 {
		s.insertOrder[tableID] = slices.Delete(order, idx, idx+1)
	}
	if len(s.insertOrder[tableID]) == 0 {
		delete(s.insertOrder, tableID)
	}
	return nil
}

// ListLinesByTable returns the table's lines most-recent-first by insertion
// order. An empty table yields an empty slice, not an error.
func (s *Store) ListLinesByTable(_ context.Context, tableID string) ([]domain.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.insertOrder[tableID]
	lines := make([]domain.OrderLine, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		if line, exists := s.lines[tableKey{tableID: tableID, lineID: order[i]}]; exists {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (s *Store) ClearTable(_ context.Context, tableID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.insertOrder[tableID]
	for _, lineID := range order {
		delete(s.lines, tableKey{tableID: tableID, lineID: lineID})
	}
	delete(s.insertOrder, tableID)
	return len(order), nil
}

func (s *Store) OccupiedTables(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make([]string, 0, len(s.insertOrder))
	for tableID := range s.insertOrder {
		tables = append(tables, tableID)
	}
	slices.Sort(tables)
	return tables, nil
}

// AssignReceipt stamps every line of the table with the receipt and the
// confirming salesman in one step.
func (s *Store) AssignReceipt(_ context.Context, tableID string, receiptID string, salesmanID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.insertOrder[tableID]
	if len(order) == 0 {
		return 0, store.ErrNoStagedOrder
	}

	now := time.Now().UTC()
	for _, lineID := range order {
		key := tableKey{tableID: tableID, lineID: lineID}
		line := s.lines[key]
		receipt := receiptID
		line.ReceiptID = &receipt
		line.SalesmanID = salesmanID
		line.UpdatedAt = now
		s.lines[key] = line
	}
	return len(order), nil
}

func (s *Store) GetSequence(_ context.Context) (domain.SequenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.sequenceReady {
		return domain.SequenceState{}, store.ErrNotFound
	}
	return s.sequence, nil
}

func (s *Store) SetSequenceCounter(_ context.Context, counter uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sequenceReady {
		return store.ErrNotFound
	}
	s.sequence.Counter = counter
	return nil
}

func (s *Store) EnsureSequence(_ context.Context, unitPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sequenceReady {
		return nil
	}
	s.sequence = domain.SequenceState{UnitPrefix: unitPrefix}
	s.sequenceReady = true
	return nil
}

func (s *Store) GetSalesman(_ context.Context, code string) (*domain.Salesman, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	salesman, exists := s.salesmenByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := salesman
	return &found, nil
}

func (s *Store) CreateSalesman(_ context.Context, salesman domain.Salesman) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if salesman.Code == "" {
		return store.ErrInvalidLine
	}
	if _, exists := s.salesmenByCode[salesman.Code]; exists {
		return store.ErrDuplicateLine
	}
	if salesman.CreatedAt.IsZero() {
		salesman.CreatedAt = time.Now().UTC()
	}
	s.salesmenByCode[salesman.Code] = salesman
	return nil
}
