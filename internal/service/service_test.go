package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pesanaja/backend/internal/cache"
	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/kitchen"
	"pesanaja/backend/internal/notifier"
	"pesanaja/backend/internal/sequence"
	"pesanaja/backend/internal/store"
	"pesanaja/backend/internal/store/memory"
)

func newTestService(t *testing.T, unitPrefix string, counter uint64) (*Service, *memory.Store, *notifier.Hub) {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()
	if err := repo.EnsureSequence(ctx, unitPrefix); err != nil {
		t.Fatalf("ensure sequence failed: %v", err)
	}
	if counter > 0 {
		if err := repo.SetSequenceCounter(ctx, counter); err != nil {
			t.Fatalf("set counter failed: %v", err)
		}
	}
	hub := notifier.NewHub()
	svc := New(repo, sequence.New(repo), hub, kitchen.NoopPublisher{}, cache.NoopOccupancyCache{}, time.Second)
	return svc, repo, hub
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func lineRequest(tableID string, lineID int64) domain.LineCreateRequest {
	return domain.LineCreateRequest{
		LineID:      lineID,
		TableID:     tableID,
		ProductCode: "P100",
		Description: "Nasi Goreng",
		UnitPrice:   dec("5.00"),
		Quantity:    dec("2"),
		LineAmount:  dec("10.00"),
		OriginTag:   "DineIn",
	}
}

func TestAddLineStagesWithNullReceipt(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := WithActor(context.Background(), domain.Actor{SalesmanCode: "S001", LocationCode: "02"})

	line, err := svc.AddLine(ctx, lineRequest("T05", 1))
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if line.ReceiptID != nil {
		t.Fatalf("staged line must have nil receipt, got %v", *line.ReceiptID)
	}
	if !line.NeedsKitchenPrint {
		t.Fatalf("new line should need a kitchen print by default")
	}
	if line.SalesmanID != "S001" {
		t.Fatalf("expected salesman S001, got %s", line.SalesmanID)
	}

	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(lines) != 1 || lines[0].LineID != 1 {
		t.Fatalf("expected one staged line, got %d", len(lines))
	}
}

func TestAddLineRejectsDuplicateLineID(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	original, err := svc.AddLine(ctx, lineRequest("T05", 1))
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	duplicate := lineRequest("T05", 1)
	duplicate.Description = "Ayam Bakar"
	_, err = svc.AddLine(ctx, duplicate)
	if !errors.Is(err, store.ErrDuplicateLine) {
		t.Fatalf("expected ErrDuplicateLine, got %v", err)
	}

	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Description != original.Description {
		t.Fatalf("duplicate insert must not modify the existing line")
	}
}

func TestAddLineDefaultsUnknownOriginToDineIn(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)

	req := lineRequest("T05", 1)
	req.OriginTag = "DriveThru"
	line, err := svc.AddLine(context.Background(), req)
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if line.OriginTag != domain.OriginDineIn {
		t.Fatalf("expected DineIn fallback, got %s", line.OriginTag)
	}
}

func TestAddLineResolvesLocationFromSalesman(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)

	cases := []struct {
		name     string
		supplied string
		actor    domain.Actor
		want     string
	}{
		{"supplied wins", "07", domain.Actor{LocationCode: "02"}, "07"},
		{"salesman location", "", domain.Actor{LocationCode: "02"}, "02"},
		{"fallback default", "", domain.Actor{}, "01"},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := lineRequest("T09", int64(i+1))
			req.LocationCode = tc.supplied
			ctx := WithActor(context.Background(), tc.actor)
			line, err := svc.AddLine(ctx, req)
			if err != nil {
				t.Fatalf("add line failed: %v", err)
			}
			if line.LocationCode != tc.want {
				t.Fatalf("expected location %s, got %s", tc.want, line.LocationCode)
			}
		})
	}
}

func TestAddLineChecksAmountInvariant(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)

	req := lineRequest("T05", 1)
	req.LineAmount = dec("9.00") // 2 * 5.00 with no discount
	_, err := svc.AddLine(context.Background(), req)
	if !errors.Is(err, store.ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine for wrong amount, got %v", err)
	}

	discounted := lineRequest("T05", 2)
	discounted.DiscountPercent = dec("10")
	discounted.DiscountAmount = dec("0.50")
	discounted.LineAmount = dec("8.50") // 10.00 - 10% - 0.50
	if _, err := svc.AddLine(context.Background(), discounted); err != nil {
		t.Fatalf("discounted line should pass invariant, got %v", err)
	}
}

func TestUpdateLinePatchesFields(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	quantity := dec("3")
	amount := dec("15.00")
	line, err := svc.UpdateLine(ctx, "T05", 1, domain.LineUpdateRequest{
		Quantity:   &quantity,
		LineAmount: &amount,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !line.Quantity.Equal(quantity) || !line.LineAmount.Equal(amount) {
		t.Fatalf("patch was not applied")
	}

	_, err = svc.UpdateLine(ctx, "T05", 99, domain.LineUpdateRequest{Quantity: &quantity})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing line, got %v", err)
	}
}

func TestUpdateLineRejectsConfirmedLine(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.Confirm(ctx, "T05", "S001", ""); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	quantity := dec("9")
	amount := dec("45.00")
	_, err := svc.UpdateLine(ctx, "T05", 1, domain.LineUpdateRequest{Quantity: &quantity, LineAmount: &amount})
	if !errors.Is(err, store.ErrInvalidLine) {
		t.Fatalf("expected confirmed line to reject updates, got %v", err)
	}
}

func TestRemoveLine(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if err := svc.RemoveLine(ctx, "T05", 1); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := svc.RemoveLine(ctx, "T05", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestListByTableMostRecentFirst(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	for _, lineID := range []int64{1, 2, 3} {
		if _, err := svc.AddLine(ctx, lineRequest("T05", lineID)); err != nil {
			t.Fatalf("add line failed: %v", err)
		}
	}

	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, want := range []int64{3, 2, 1} {
		if lines[i].LineID != want {
			t.Fatalf("expected line %d at position %d, got %d", want, i, lines[i].LineID)
		}
	}
}

func TestClearTableEmptiesAndReleasesOccupancy(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	for _, lineID := range []int64{1, 2} {
		if _, err := svc.AddLine(ctx, lineRequest("T05", lineID)); err != nil {
			t.Fatalf("add line failed: %v", err)
		}
	}

	removed, err := svc.ClearTable(ctx, "T05")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected empty table after clear, got %d lines", len(lines))
	}

	tables, err := svc.OccupiedTables(ctx)
	if err != nil {
		t.Fatalf("occupied failed: %v", err)
	}
	for _, table := range tables {
		if table == "T05" {
			t.Fatalf("cleared table must not stay occupied")
		}
	}
}

func TestOccupiedTablesIncludesConfirmedUnpaid(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.AddLine(ctx, lineRequest("R102", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.Confirm(ctx, "T05", "S001", ""); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	tables, err := svc.OccupiedTables(ctx)
	if err != nil {
		t.Fatalf("occupied failed: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected both tables occupied, got %v", tables)
	}
}

func TestConfirmAssignsOneReceiptToAllLines(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 41)
	ctx := context.Background()

	for _, lineID := range []int64{1, 2, 3} {
		if _, err := svc.AddLine(ctx, lineRequest("T05", lineID)); err != nil {
			t.Fatalf("add line failed: %v", err)
		}
	}

	resp, err := svc.Confirm(ctx, "T05", "S002", "")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if resp.ReceiptID != "100000042" {
		t.Fatalf("expected receipt 100000042, got %s", resp.ReceiptID)
	}
	if resp.LineCount != 3 {
		t.Fatalf("expected 3 confirmed lines, got %d", resp.LineCount)
	}

	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, line := range lines {
		if line.ReceiptID == nil || *line.ReceiptID != "100000042" {
			t.Fatalf("every line must carry the same receipt")
		}
		if line.SalesmanID != "S002" {
			t.Fatalf("confirming salesman must be stamped on every line")
		}
	}
}

func TestReconfirmReusesReceiptWithoutAdvancingSequence(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 41)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	first, err := svc.Confirm(ctx, "T05", "S001", "")
	if err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	second, err := svc.Confirm(ctx, "T05", "S002", "")
	if err != nil {
		t.Fatalf("second confirm failed: %v", err)
	}
	if first.ReceiptID != second.ReceiptID {
		t.Fatalf("re-confirm must reuse receipt: %s vs %s", first.ReceiptID, second.ReceiptID)
	}

	state, err := svc.SequenceState(ctx)
	if err != nil {
		t.Fatalf("sequence state failed: %v", err)
	}
	if state.Counter != 42 {
		t.Fatalf("counter must advance once across both confirms, got %d", state.Counter)
	}

	// The retry's salesman still wins on the lines.
	lines, err := svc.ListByTable(ctx, "T05")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if lines[0].SalesmanID != "S002" {
		t.Fatalf("re-confirm must update the salesman, got %s", lines[0].SalesmanID)
	}
}

func TestReconfirmIgnoresStaleSuppliedReceipt(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 41)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	first, err := svc.Confirm(ctx, "T05", "S001", "")
	if err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}

	retry, err := svc.Confirm(ctx, "T05", "S001", "STALE-999")
	if err != nil {
		t.Fatalf("retry with stale receipt must not error: %v", err)
	}
	if retry.ReceiptID != first.ReceiptID {
		t.Fatalf("stored receipt is authoritative, got %s", retry.ReceiptID)
	}
}

func TestConfirmManualOverrideSkipsGenerator(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 41)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	resp, err := svc.Confirm(ctx, "T05", "S001", "MANUAL-7")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if resp.ReceiptID != "MANUAL-7" {
		t.Fatalf("expected manual receipt, got %s", resp.ReceiptID)
	}

	state, err := svc.SequenceState(ctx)
	if err != nil {
		t.Fatalf("sequence state failed: %v", err)
	}
	if state.Counter != 41 {
		t.Fatalf("manual override must not touch the counter, got %d", state.Counter)
	}
}

func TestConfirmEmptyTableFails(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)

	_, err := svc.Confirm(context.Background(), "T99", "S001", "")
	if !errors.Is(err, store.ErrNoStagedOrder) {
		t.Fatalf("expected ErrNoStagedOrder, got %v", err)
	}
}

func TestConfirmCallsGeneratorOncePerTableNotPerLine(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 0)
	ctx := context.Background()

	for _, lineID := range []int64{1, 2, 3, 4, 5} {
		if _, err := svc.AddLine(ctx, lineRequest("T05", lineID)); err != nil {
			t.Fatalf("add line failed: %v", err)
		}
	}
	if _, err := svc.Confirm(ctx, "T05", "S001", ""); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	state, err := svc.SequenceState(ctx)
	if err != nil {
		t.Fatalf("sequence state failed: %v", err)
	}
	if state.Counter != 1 {
		t.Fatalf("five lines must consume one receipt number, counter=%d", state.Counter)
	}
}

func TestMutationsEmitExactlyOneEvent(t *testing.T) {
	svc, _, hub := newTestService(t, "1", 0)
	ctx := context.Background()
	sub := hub.Subscribe()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.AddLine(ctx, lineRequest("T05", 2)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.Confirm(ctx, "T05", "S001", ""); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, err := svc.ClearTable(ctx, "T05"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	wantKinds := []string{
		domain.EventLineCreated,
		domain.EventLineCreated,
		domain.EventOrderConfirmed,
		domain.EventTableCleared,
	}
	for _, want := range wantKinds {
		select {
		case event := <-sub.Events():
			if event.Kind != want {
				t.Fatalf("expected event %s, got %s", want, event.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", want)
		}
	}

	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected extra event %s", event.Kind)
	default:
	}
}

func TestClearedTableStartsFreshEpisode(t *testing.T) {
	svc, _, _ := newTestService(t, "1", 41)
	ctx := context.Background()

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	first, err := svc.Confirm(ctx, "T05", "S001", "")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, err := svc.ClearTable(ctx, "T05"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if _, err := svc.AddLine(ctx, lineRequest("T05", 1)); err != nil {
		t.Fatalf("fresh add after clear failed: %v", err)
	}
	second, err := svc.Confirm(ctx, "T05", "S001", "")
	if err != nil {
		t.Fatalf("second confirm failed: %v", err)
	}
	if first.ReceiptID == second.ReceiptID {
		t.Fatalf("a fresh episode must get a new receipt")
	}
	if second.ReceiptID != "100000043" {
		t.Fatalf("expected receipt 100000043, got %s", second.ReceiptID)
	}
}
