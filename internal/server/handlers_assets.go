package server

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
)

// --- Asset models ---

type assetModelRequest struct {
	Type      string `json:"type"`
	Brand     string `json:"brand"`
	ModelName string `json:"modelName"`
}

func (s *Server) handleAssetModelsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		items, err := storage.ListAssetModels(r.Context(), s.store.DB(),
			queryInt(r, "offset", 0), queryInt(r, "limit", 50))
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, items)

	case http.MethodPost:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req assetModelRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		now := time.Now().UTC()
		m := &models.AssetModel{
			ID:        uuid.New().String(),
			Type:      check.require("type", req.Type),
			Brand:     check.require("brand", req.Brand),
			ModelName: check.require("modelName", req.ModelName),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := storage.CreateAssetModel(ctx, tx, m); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditCreate, "asset_model", m.ID, nil, m)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusCreated, m)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleAssetModelByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		m, err := storage.GetAssetModel(r.Context(), s.store.DB(), id)
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, m)

	case http.MethodPut:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req assetModelRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		update := &models.AssetModel{
			ID:        id,
			Type:      check.require("type", req.Type),
			Brand:     check.require("brand", req.Brand),
			ModelName: check.require("modelName", req.ModelName),
		}
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetAssetModel(ctx, tx, id)
			if err != nil {
				return err
			}
			update.CreatedAt = before.CreatedAt
			if err := storage.UpdateAssetModel(ctx, tx, update); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditUpdate, "asset_model", id, before, update)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, update)

	case http.MethodDelete:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetAssetModel(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := storage.DeleteAssetModel(ctx, tx, id); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditDelete, "asset_model", id, before, nil)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- Asset items ---

type assetItemRequest struct {
	AssetModelID string `json:"assetModelId"`
	AssetTag     string `json:"assetTag"`
	Serial       string `json:"serial"`
}

func (s *Server) handleAssetItemsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		q := r.URL.Query()
		items, err := storage.ListAssetItems(r.Context(), s.store.DB(),
			q.Get("status"), q.Get("assetModelId"),
			queryInt(r, "offset", 0), queryInt(r, "limit", 50))
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, items)

	case http.MethodPost:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req assetItemRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		now := time.Now().UTC()
		item := &models.AssetItem{
			ID:           uuid.New().String(),
			AssetModelID: check.require("assetModelId", req.AssetModelID),
			AssetTag:     check.optional("assetTag", req.AssetTag, 100),
			Serial:       check.optional("serial", req.Serial, 100),
			Status:       models.AssetInStock,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := storage.CreateAssetItem(ctx, tx, item); err != nil {
				if apperr.Is(err, apperr.KindConflict) {
					return apperr.New(apperr.KindConflict, "asset tag is already in use")
				}
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditCreate, "asset_item", item.ID, nil, item)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusCreated, item)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleAssetItemByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		item, err := storage.GetAssetItem(r.Context(), s.store.DB(), id)
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, item)

	case http.MethodPut:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req assetItemRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		modelID := check.require("assetModelId", req.AssetModelID)
		tag := check.optional("assetTag", req.AssetTag, 100)
		serial := check.optional("serial", req.Serial, 100)
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		var item *models.AssetItem
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetAssetItem(ctx, tx, id)
			if err != nil {
				return err
			}
			item = &models.AssetItem{
				ID:           id,
				AssetModelID: modelID,
				AssetTag:     tag,
				Serial:       serial,
				Status:       before.Status,
				CreatedAt:    before.CreatedAt,
			}
			if err := storage.UpdateAssetItem(ctx, tx, item); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditUpdate, "asset_item", id, before, item)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, item)

	case http.MethodDelete:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetAssetItem(ctx, tx, id)
			if err != nil {
				return err
			}
			if before.Status == models.AssetLent {
				return apperr.New(apperr.KindConflict, "asset item is currently lent")
			}
			if err := storage.DeleteAssetItem(ctx, tx, id); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditDelete, "asset_item", id, before, nil)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

// handleAssetItemStatus handles PUT /api/assets/items/{id}/status
// (MANAGER+). LENT is owned by the loan engine and cannot be entered or
// left by hand.
func (s *Server) handleAssetItemStatus(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var req statusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	var check fieldCheck
	status := check.oneOf("status", req.Status, models.AssetInStock, models.AssetBroken, models.AssetRepair)
	if err := check.err(); err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	var item *models.AssetItem
	err := s.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := storage.GetAssetItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if before.Status == models.AssetLent {
			return apperr.New(apperr.KindConflict, "asset item is currently lent")
		}
		if err := storage.SetAssetItemStatus(ctx, tx, id, before.Status, status); err != nil {
			return err
		}
		item, err = storage.GetAssetItem(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.auditTx(ctx, tx, actor.UserID, r, models.AuditUpdate, "asset_item", id, before, item)
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, item)
}

// --- Stock ---

type stockRequest struct {
	AssetModelID string `json:"assetModelId"`
	Quantity     int    `json:"quantity"`
}

func (s *Server) handleStockRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		items, err := storage.ListStockItems(r.Context(), s.store.DB(),
			queryInt(r, "offset", 0), queryInt(r, "limit", 50))
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, items)

	case http.MethodPost:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req stockRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		now := time.Now().UTC()
		item := &models.StockItem{
			ID:           uuid.New().String(),
			AssetModelID: check.require("assetModelId", req.AssetModelID),
			Quantity:     check.min("quantity", req.Quantity, 0),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := storage.CreateStockItem(ctx, tx, item); err != nil {
				if apperr.Is(err, apperr.KindConflict) {
					return apperr.New(apperr.KindConflict, "stock already exists for this asset model")
				}
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditCreate, "stock_item", item.ID, nil, item)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusCreated, item)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleStockByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(w, r) == nil {
			return
		}
		item, err := storage.GetStockItem(r.Context(), s.store.DB(), id)
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, item)

	case http.MethodPut:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		var req stockRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		var check fieldCheck
		check.min("quantity", req.Quantity, 0)
		if err := check.err(); err != nil {
			WriteErr(w, err)
			return
		}
		ctx := r.Context()
		var item *models.StockItem
		err := s.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetStockItem(ctx, tx, id)
			if err != nil {
				return err
			}
			// Quantity can never drop below the loaned count; the CHECK
			// constraint backstops this but the message here is clearer.
			if req.Quantity < before.Loaned {
				return apperr.New(apperr.KindConflict, "quantity cannot drop below the loaned count")
			}
			if err := storage.UpdateStockQuantity(ctx, tx, id, req.Quantity); err != nil {
				return err
			}
			item, err = storage.GetStockItem(ctx, tx, id)
			if err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditUpdate, "stock_item", id, before, item)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, item)

	case http.MethodDelete:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		ctx := r.Context()
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			before, err := storage.GetStockItem(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := storage.DeleteStockItem(ctx, tx, id); err != nil {
				return err
			}
			return s.auditTx(ctx, tx, actor.UserID, r, models.AuditDelete, "stock_item", id, before, nil)
		})
		if err != nil {
			WriteErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
