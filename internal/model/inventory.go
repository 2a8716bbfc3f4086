package model

import "time"

// InventorySnapshot は製造現場側のボトル在庫数のスナップショットを表す。
type InventorySnapshot struct {
	ID        string
	Bottles   map[string]int
	Total     int
	Trigger   string
	UpdatedAt time.Time
	UpdatedBy string
}

// StockUpdate は共有在庫コレクションへのマージ書き込み1件分を表す。
// ここに含まれるフィールド以外は書き込み先で保持される。
type StockUpdate struct {
	ProductID     string
	CurrentStock  int
	Unit          string
	LastUpdated   time.Time
	SyncTimestamp time.Time
}

// 共有在庫ドキュメントで本サブシステムが所有するフィールド名。
const (
	StockFieldProductID     = "productId"
	StockFieldCurrentStock  = "currentStock"
	StockFieldUnit          = "unit"
	StockFieldLastUpdated   = "lastUpdated"
	StockFieldSyncTimestamp = "syncTimestamp"
)

// Fields はマージ書き込みで上書きするフィールドのみをmapで返す。
func (u StockUpdate) Fields() map[string]any {
	return map[string]any{
		StockFieldProductID:     u.ProductID,
		StockFieldCurrentStock:  u.CurrentStock,
		StockFieldUnit:          u.Unit,
		StockFieldLastUpdated:   u.LastUpdated.UTC().Format(time.RFC3339Nano),
		StockFieldSyncTimestamp: u.SyncTimestamp.UTC().Format(time.RFC3339Nano),
	}
}

// MergeStockDocument は既存ドキュメントにStockUpdateをマージした新しいドキュメントを返す。
// 既存ドキュメントのうちStockUpdateが所有しないフィールドは変更しない。
// existingは変更しない。
func MergeStockDocument(existing map[string]any, u StockUpdate) map[string]any {
	merged := make(map[string]any, len(existing)+5)
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range u.Fields() {
		merged[k] = v
	}
	return merged
}
