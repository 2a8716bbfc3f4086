package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

// InventoryServiceInterface は在庫ハンドラーが必要とするサービスインターフェース。
type InventoryServiceInterface interface {
	// Get は最新の在庫スナップショットを返す。
	Get(ctx context.Context) (*model.InventorySnapshot, error)
	// Save は在庫数を記録し、CRM側への同期を依頼する。同期の結果は待たない。
	Save(ctx context.Context, actor string, bottles map[string]any, trigger string) (*model.InventorySnapshot, error)
}

// InventoryHandler は在庫のHTTPハンドラー。
type InventoryHandler struct {
	service InventoryServiceInterface
}

// NewInventoryHandler はInventoryHandlerを生成する。
func NewInventoryHandler(service InventoryServiceInterface) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// saveInventoryRequest は在庫登録リクエストのボディ。
// 値は数値・数値文字列のどちらも受け付けるためanyで受ける。
type saveInventoryRequest struct {
	Bottles map[string]any `json:"bottles"`
	Trigger string         `json:"trigger"`
}

// inventoryResponse は在庫スナップショットのAPIレスポンス。
type inventoryResponse struct {
	Bottles   map[string]int `json:"bottles"`
	Total     int            `json:"total"`
	Trigger   string         `json:"trigger,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
	UpdatedBy string         `json:"updatedBy"`
}

// GetInventory は最新の在庫を返す。
// GET /inventory
func (h *InventoryHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Get(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(snap))
}

// SaveInventory は在庫数を記録する。
// POST /inventory
func (h *InventoryHandler) SaveInventory(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req saveInventoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Bottles == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("bottles"))
		return
	}

	snap, err := h.service.Save(r.Context(), claims.UID, req.Bottles, req.Trigger)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(snap))
}

func toInventoryResponse(snap *model.InventorySnapshot) inventoryResponse {
	bottles := snap.Bottles
	if bottles == nil {
		bottles = map[string]int{}
	}
	return inventoryResponse{
		Bottles:   bottles,
		Total:     snap.Total,
		Trigger:   snap.Trigger,
		UpdatedAt: snap.UpdatedAt,
		UpdatedBy: snap.UpdatedBy,
	}
}
