package models

import "time"

// Asset item statuses.
const (
	AssetInStock = "IN_STOCK"
	AssetLent    = "LENT"
	AssetBroken  = "BROKEN"
	AssetRepair  = "REPAIR"
)

// ValidAssetStatus reports whether status is a known asset item status.
func ValidAssetStatus(status string) bool {
	switch status {
	case AssetInStock, AssetLent, AssetBroken, AssetRepair:
		return true
	}
	return false
}

// AssetModel is a template shared by tracked items and consumable stock.
type AssetModel struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Brand     string    `json:"brand"`
	ModelName string    `json:"modelName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssetItem is one individually tracked physical unit.
type AssetItem struct {
	ID           string    `json:"id"`
	AssetModelID string    `json:"assetModelId"`
	AssetTag     string    `json:"assetTag,omitempty"`
	Serial       string    `json:"serial,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StockItem is a consumable count keyed by asset model. Loaned never exceeds
// Quantity; both are non-negative (backed by a CHECK constraint).
type StockItem struct {
	ID           string    `json:"id"`
	AssetModelID string    `json:"assetModelId"`
	Quantity     int       `json:"quantity"`
	Loaned       int       `json:"loaned"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Available returns the undrawn count.
func (s *StockItem) Available() int {
	return s.Quantity - s.Loaned
}
