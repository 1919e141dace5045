package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OriginTag classifies where an order line was taken.
type OriginTag string

const (
	OriginDineIn      OriginTag = "DineIn"
	OriginRoomService OriginTag = "RoomService"
	OriginTakeaway    OriginTag = "Takeaway"
)

// ParseOriginTag maps raw client input onto a known origin tag. Anything
// unrecognised (including empty input) falls back to DineIn; the caller
// decides whether the substitution is worth logging.
func ParseOriginTag(raw string) (OriginTag, bool) {
	switch OriginTag(raw) {
	case OriginDineIn, OriginRoomService, OriginTakeaway:
		return OriginTag(raw), true
	}
	return OriginDineIn, false
}

// OrderLine is one staged item on a table's pending order. ReceiptID stays
// nil while the line is staged and is set exactly once on confirmation.
type OrderLine struct {
	LineID            int64           `json:"line_id"`
	TableID           string          `json:"table_id"`
	SeatID            string          `json:"seat_id,omitempty"`
	ProductCode       string          `json:"product_code"`
	Description       string          `json:"description"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	FreeQuantity      decimal.Decimal `json:"free_quantity"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	LineAmount        decimal.Decimal `json:"line_amount"`
	OriginTag         OriginTag       `json:"origin_tag"`
	LocationCode      string          `json:"location_code"`
	ReceiptID         *string         `json:"receipt_id"`
	SalesmanID        string          `json:"salesman_id"`
	NeedsKitchenPrint bool            `json:"needs_kitchen_print"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Confirmed reports whether the line already belongs to a receipt.
func (l OrderLine) Confirmed() bool {
	return l.ReceiptID != nil && *l.ReceiptID != ""
}

type LineCreateRequest struct {
	LineID              int64           `json:"line_id"`
	TableID             string          `json:"table_id"`
	SeatID              string          `json:"seat_id"`
	ProductCode         string          `json:"product_code"`
	Description         string          `json:"description"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Quantity            decimal.Decimal `json:"quantity"`
	FreeQuantity        decimal.Decimal `json:"free_quantity"`
	DiscountPercent     decimal.Decimal `json:"discount_percent"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	LineAmount          decimal.Decimal `json:"line_amount"`
	OriginTag           string          `json:"origin_tag"`
	LocationCode        string          `json:"location_code"`
	SuppressKitchenCopy bool            `json:"suppress_kitchen_copy"`
}

type LineUpdateRequest struct {
	SeatID          *string          `json:"seat_id,omitempty"`
	ProductCode     *string          `json:"product_code,omitempty"`
	Description     *string          `json:"description,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
	FreeQuantity    *decimal.Decimal `json:"free_quantity,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	LineAmount      *decimal.Decimal `json:"line_amount,omitempty"`
}

type ConfirmRequest struct {
	TableID   string `json:"table_id"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

type ConfirmResponse struct {
	ReceiptID string `json:"receiptId"`
	LineCount int    `json:"lineCount"`
}

// SequenceState is the single persisted receipt counter. The formatted
// receipt number is UnitPrefix followed by the counter zero-padded to
// eight digits.
type SequenceState struct {
	UnitPrefix string `json:"unit_prefix"`
	Counter    uint64 `json:"counter"`
}

// Salesman mirrors the staff record consulted at login and at line
// creation (its assigned location backfills missing location codes).
type Salesman struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	LocationCode string    `json:"location_code"`
	Blacklisted  bool      `json:"blacklisted"`
	Suspended    bool      `json:"suspended"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor is the authenticated caller attached to request contexts.
type Actor struct {
	SalesmanCode string
	Name         string
	Role         string
	LocationCode string
}

type LoginRequest struct {
	SalesmanCode string `json:"salesman_code"`
	Password     string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	SalesmanName string `json:"salesman_name"`
	Role         string `json:"role"`
	LocationCode string `json:"location_code"`
	ExpiresAt    string `json:"expires_at"`
}

// Change event kinds fanned out by the notifier.
const (
	EventLineCreated    = "line_created"
	EventLineUpdated    = "line_updated"
	EventLineDeleted    = "line_deleted"
	EventTableCleared   = "table_cleared"
	EventOrderConfirmed = "order_confirmed"
)

// ChangeEvent is one staging or confirmation mutation as seen by
// subscribed observers.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TableID   string    `json:"table_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// KitchenTicket is the message published for lines that need a kitchen
// print copy.
type KitchenTicket struct {
	TableID     string          `json:"table_id"`
	SeatID      string          `json:"seat_id,omitempty"`
	LineID      int64           `json:"line_id"`
	ProductCode string          `json:"product_code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	OriginTag   OriginTag       `json:"origin_tag"`
	At          time.Time       `json:"at"`
}
