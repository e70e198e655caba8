package alerts

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

// ReorderAlert flags an (item, warehouse) pair whose stock on hand has
// fallen to or below its reorder level. At most one open alert exists
// per subject; the subject key enforces that in storage.
type ReorderAlert struct {
	ID           int64
	ItemID       int64
	WarehouseID  int64
	Status       docflow.State
	StockOnHand  int64
	ReorderLevel int64
	SuggestedQty int64
	// POID is set when the conversion pipeline creates a purchase order
	// from this alert.
	POID      *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubjectKey identifies the open-alert uniqueness scope.
func (a ReorderAlert) SubjectKey() string {
	return SubjectKey(a.ItemID, a.WarehouseID)
}

// SubjectKey builds the open-alert uniqueness key for a pair.
func SubjectKey(itemID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", itemID, warehouseID)
}

// View adapts the alert for the transition engine.
func (a ReorderAlert) View() docflow.View {
	return docflow.View{ID: a.ID, Kind: docflow.KindReorderAlert, Status: a.Status}
}

// Open reports whether the alert still needs action.
func (a ReorderAlert) Open() bool {
	return a.Status == docflow.StatusPending || a.Status == docflow.StatusAcknowledged
}

// StockLevel is the current inventory position for one item in one
// warehouse, with its replenishment thresholds.
type StockLevel struct {
	ItemID       int64
	WarehouseID  int64
	OnHand       int64
	ReorderLevel int64
	ReorderQty   int64
}

// BelowThreshold reports whether the level calls for a reorder.
func (l StockLevel) BelowThreshold() bool {
	return l.ReorderLevel > 0 && l.OnHand <= l.ReorderLevel
}

// SuggestedQty is the quantity a reorder alert proposes: the
// configured reorder quantity, or the threshold gap when that is
// larger.
func (l StockLevel) SuggestedQty() int64 {
	gap := l.ReorderLevel - l.OnHand
	if gap > l.ReorderQty {
		return gap
	}
	return l.ReorderQty
}
