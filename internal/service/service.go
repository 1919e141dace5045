package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pesanaja/backend/internal/cache"
	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/kitchen"
	"pesanaja/backend/internal/notifier"
	"pesanaja/backend/internal/sequence"
	"pesanaja/backend/internal/store"
	"pesanaja/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const defaultLocationCode = "01"

// amountTolerance is the largest drift allowed between the client-supplied
// line amount and the recomputed one. Clients round to two decimals.
var amountTolerance = decimal.NewFromFloat(0.01)

// Service is the staging authority: it owns the per-table locks, the
// confirmation coordinator, and the single event emission point for every
// mutation.
type Service struct {
	repo      store.Repository
	seq       *sequence.Generator
	hub       *notifier.Hub
	kitchen   kitchen.Publisher
	occupancy cache.OccupancyCache

	occupancyTTL time.Duration

	tableMu    sync.Mutex
	tableLocks map[string]*sync.Mutex
}

func New(repo store.Repository, seq *sequence.Generator, hub *notifier.Hub, kitchenPub kitchen.Publisher, occupancy cache.OccupancyCache, occupancyTTL time.Duration) *Service {
	if kitchenPub == nil {
		kitchenPub = kitchen.NoopPublisher{}
	}
	if occupancy == nil {
		occupancy = cache.NoopOccupancyCache{}
	}
	if occupancyTTL <= 0 {
		occupancyTTL = 5 * time.Second
	}

	return &Service{
		repo:         repo,
		seq:          seq,
		hub:          hub,
		kitchen:      kitchenPub,
		occupancy:    occupancy,
		occupancyTTL: occupancyTTL,
		tableLocks:   make(map[string]*sync.Mutex),
	}
}

// lockTable serializes all mutating operations against one table's line
// set. Different tables proceed in parallel.
func (s *Service) lockTable(tableID string) func() {
	s.tableMu.Lock()
	mu, exists := s.tableLocks[tableID]
	if !exists {
		mu = &sync.Mutex{}
		s.tableLocks[tableID] = mu
	}
	s.tableMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) AddLine(ctx context.Context, req domain.LineCreateRequest) (domain.OrderLine, error) {
	if req.TableID == "" || req.LineID == 0 {
		return domain.OrderLine{}, store.ErrInvalidLine
	}

	origin, known := domain.ParseOriginTag(req.OriginTag)
	if !known && req.OriginTag != "" {
		log.Printf("[service] unknown origin tag %q on table %s line %d, defaulting to %s", req.OriginTag, req.TableID, req.LineID, domain.OriginDineIn)
	}

	actor, _ := ActorFromContext(ctx)
	location := req.LocationCode
	if location == "" {
		location = actor.LocationCode
	}
	if location == "" {
		location = defaultLocationCode
	}

	line := domain.OrderLine{
		LineID:            req.LineID,
		TableID:           req.TableID,
		SeatID:            req.SeatID,
		ProductCode:       req.ProductCode,
		Description:       req.Description,
		UnitPrice:         req.UnitPrice,
		Quantity:          req.Quantity,
		FreeQuantity:      req.FreeQuantity,
		DiscountPercent:   req.DiscountPercent,
		DiscountAmount:    req.DiscountAmount,
		LineAmount:        req.LineAmount,
		OriginTag:         origin,
		LocationCode:      location,
		SalesmanID:        actor.SalesmanCode,
		NeedsKitchenPrint: !req.SuppressKitchenCopy,
	}

	if err := validateLineAmount(line); err != nil {
		return domain.OrderLine{}, err
	}

	unlock := s.lockTable(req.TableID)
	defer unlock()

	created, err := s.repo.InsertLine(ctx, line)
	if err != nil {
		return domain.OrderLine{}, err
	}

	s.emit(domain.EventLineCreated, created.TableID, created)
	s.invalidateOccupancy(ctx)

	if created.NeedsKitchenPrint {
		ticket := domain.KitchenTicket{
			TableID:     created.TableID,
			SeatID:      created.SeatID,
			LineID:      created.LineID,
			ProductCode: created.ProductCode,
			Description: created.Description,
			Quantity:    created.Quantity,
			OriginTag:   created.OriginTag,
			At:          created.CreatedAt,
		}
		if err := s.kitchen.PublishTicket(ctx, ticket); err != nil {
			log.Printf("[service] WARN: kitchen ticket publish failed table=%s line=%d: %v", created.TableID, created.LineID, err)
		}
	}

	return *created, nil
}

func (s *Service) UpdateLine(ctx context.Context, tableID string, lineID int64, patch domain.LineUpdateRequest) (domain.OrderLine, error) {
	if tableID == "" || lineID == 0 {
		return domain.OrderLine{}, store.ErrInvalidLine
	}

	unlock := s.lockTable(tableID)
	defer unlock()

	existing, err := s.repo.GetLine(ctx, tableID, lineID)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if existing.Confirmed() {
		return domain.OrderLine{}, store.ErrInvalidLine
	}

	updated := *existing
	if patch.SeatID != nil {
		updated.SeatID = *patch.SeatID
	}
	if patch.ProductCode != nil {
		updated.ProductCode = *patch.ProductCode
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.UnitPrice != nil {
		updated.UnitPrice = *patch.UnitPrice
	}
	if patch.Quantity != nil {
		updated.Quantity = *patch.Quantity
	}
	if patch.FreeQuantity != nil {
		updated.FreeQuantity = *patch.FreeQuantity
	}
	if patch.DiscountPercent != nil {
		updated.DiscountPercent = *patch.DiscountPercent
	}
	if patch.DiscountAmount != nil {
		updated.DiscountAmount = *patch.DiscountAmount
	}
	if patch.LineAmount != nil {
		updated.LineAmount = *patch.LineAmount
	}

	if err := validateLineAmount(updated); err != nil {
		return domain.OrderLine{}, err
	}

	saved, err := s.repo.UpdateLine(ctx, updated)
	if err != nil {
		return domain.OrderLine{}, err
	}

	s.emit(domain.EventLineUpdated, saved.TableID, saved)
	return *saved, nil
}

func (s *Service) RemoveLine(ctx context.Context, tableID string, lineID int64) error {
	if tableID == "" || lineID == 0 {
		return store.ErrInvalidLine
	}

	unlock := s.lockTable(tableID)
	defer unlock()

	if err := s.repo.DeleteLine(ctx, tableID, lineID); err != nil {
		return err
	}

	s.emit(domain.EventLineDeleted, tableID, map[string]any{"table_id": tableID, "line_id": lineID})
	s.invalidateOccupancy(ctx)
	return nil
}

func (s *Service) ListByTable(ctx context.Context, tableID string) ([]domain.OrderLine, error) {
	if tableID == "" {
		return nil, store.ErrInvalidLine
	}
	return s.repo.ListLinesByTable(ctx, tableID)
}

// ClearTable wipes every line for the table in one unit and emits a single
// cleared event instead of one per line.
func (s *Service) ClearTable(ctx context.Context, tableID string) (int, error) {
	if tableID == "" {
		return 0, store.ErrInvalidLine
	}

	unlock := s.lockTable(tableID)
	defer unlock()

	removed, err := s.repo.ClearTable(ctx, tableID)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.emit(domain.EventTableCleared, tableID, map[string]any{"table_id": tableID, "removed": removed})
		s.invalidateOccupancy(ctx)
	}
	return removed, nil
}

func (s *Service) OccupiedTables(ctx context.Context) ([]string, error) {
	if tables, hit, err := s.occupancy.Get(ctx); err == nil && hit {
		return tables, nil
	} else if err != nil {
		log.Printf("[service] WARN: occupancy cache read failed: %v", err)
	}

	tables, err := s.repo.OccupiedTables(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.occupancy.Set(ctx, tables, s.occupancyTTL); err != nil {
		log.Printf("[service] WARN: occupancy cache write failed: %v", err)
	}
	return tables, nil
}

// Confirm turns a table's staged lines into a confirmed order. The receipt
// number is resolved exactly once per confirmation episode: an existing
// receipt on the lines is authoritative (re-confirm is idempotent), a
// caller-supplied id is a manual override, and only a fresh episode touches
// the sequence generator, once for the whole table and never per line.
func (s *Service) Confirm(ctx context.Context, tableID string, salesmanID string, suppliedReceiptID string) (domain.ConfirmResponse, error) {
	if tableID == "" {
		return domain.ConfirmResponse{}, store.ErrInvalidLine
	}

	unlock := s.lockTable(tableID)
	defer unlock()

	lines, err := s.repo.ListLinesByTable(ctx, tableID)
	if err != nil {
		return domain.ConfirmResponse{}, err
	}
	if len(lines) == 0 {
		return domain.ConfirmResponse{}, store.ErrNoStagedOrder
	}

	var receiptID string
	for _, line := range lines {
		if line.Confirmed() {
			receiptID = *line.ReceiptID
			break
		}
	}

	switch {
	case receiptID != "":
		// Idempotent path: a second device retrying with stale data must
		// not renumber the order.
		if suppliedReceiptID != "" && suppliedReceiptID != receiptID {
			log.Printf("[service] ignoring supplied receipt %s for table %s, already confirmed as %s", suppliedReceiptID, tableID, receiptID)
		}
	case suppliedReceiptID != "":
		receiptID = suppliedReceiptID
	default:
		receiptID, err = s.seq.Next(ctx)
		if err != nil {
			return domain.ConfirmResponse{}, err
		}
	}

	count, err := s.repo.AssignReceipt(ctx, tableID, receiptID, salesmanID)
	if err != nil {
		return domain.ConfirmResponse{}, err
	}

	s.emit(domain.EventOrderConfirmed, tableID, map[string]any{
		"table_id":   tableID,
		"receipt_id": receiptID,
		"line_count": count,
	})

	return domain.ConfirmResponse{ReceiptID: receiptID, LineCount: count}, nil
}

// SequenceState exposes the current counter for the diagnostic endpoint.
func (s *Service) SequenceState(ctx context.Context) (domain.SequenceState, error) {
	return s.seq.Current(ctx)
}

func (s *Service) GetSalesman(ctx context.Context, code string) (*domain.Salesman, error) {
	return s.repo.GetSalesman(ctx, code)
}

// emit is the single emission point for change events; every state change
// has exactly one corresponding notification.
func (s *Service) emit(kind string, tableID string, payload any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(domain.ChangeEvent{
		ID:        xid.New("evt"),
		Kind:      kind,
		TableID:   tableID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) invalidateOccupancy(ctx context.Context) {
	if err := s.occupancy.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: occupancy cache invalidate failed: %v", err)
	}
}

// validateLineAmount checks the write-time invariant: the supplied line
// amount must equal quantity*unitPrice net of both discounts, within a
// one-cent rounding tolerance. The store never recomputes it.
func validateLineAmount(line domain.OrderLine) error {
	if line.Quantity.IsNegative() || line.UnitPrice.IsNegative() {
		return store.ErrInvalidLine
	}
	if line.DiscountPercent.IsNegative() || line.DiscountAmount.IsNegative() {
		return store.ErrInvalidLine
	}

	gross := line.Quantity.Mul(line.UnitPrice)
	percentOff := gross.Mul(line.DiscountPercent).Div(decimal.NewFromInt(100))
	expected := gross.Sub(percentOff).Sub(line.DiscountAmount)

	if line.LineAmount.Sub(expected).Abs().GreaterThan(amountTolerance) {
		return store.ErrInvalidLine
	}
	return nil
}
