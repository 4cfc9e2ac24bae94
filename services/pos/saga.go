package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SagaSellRequest é o payload dos branches de saga enviados pelo DTM
type SagaSellRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	MenuItemID string `json:"menu_item_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	// Propagação manual do trace context (o DTM não propaga os headers W3C)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// SagaSaleUseCase executa a venda como branch de uma saga do DTM.
// O barrier garante idempotência e trata compensações nulas e suspensas.
type SagaSaleUseCase struct {
	db          *sql.DB
	store       StockStore
	lockTimeout time.Duration
}

// NewSagaSaleUseCase cria uma nova instância de SagaSaleUseCase
func NewSagaSaleUseCase(db *sql.DB, lockTimeout time.Duration) *SagaSaleUseCase {
	return &SagaSaleUseCase{
		db:          db,
		store:       SQLStockStore{},
		lockTimeout: lockTimeout,
	}
}

// isBusinessFailure indica erros que não mudam com nova tentativa e devem abortar a saga
func isBusinessFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownIngredient) ||
		errors.Is(err, ErrInsufficientStock)
}

func (uc *SagaSaleUseCase) setLockTimeout(ctx context.Context, tx *sql.Tx) error {
	if uc.lockTimeout <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", uc.lockTimeout.Milliseconds()))
	return err
}

// SellBranch é a ação da saga: baixa o estoque do item vendido
func (uc *SagaSaleUseCase) SellBranch(ctx context.Context, barrier *dtmcli.BranchBarrier, req SagaSellRequest) error {
	log.Printf("➡️ [SAGA SELL] GID: %s | OrderID: %s | MenuItemID: %s | Quantity: %d",
		barrier.Gid, req.OrderID, req.MenuItemID, req.Quantity)

	if err := validateSaleQuantity(req.Quantity); err != nil {
		return fmt.Errorf("%w: %v", dtmcli.ErrFailure, err)
	}

	err := barrier.CallWithDB(uc.db, func(tx *sql.Tx) error {
		if err := uc.setLockTimeout(ctx, tx); err != nil {
			return classifyPqError(err)
		}
		stx := &SQLTx{tx: tx}
		item, err := uc.store.GetMenuItemForShare(ctx, stx, req.MenuItemID)
		if err != nil {
			return err
		}
		return applySale(ctx, uc.store, stx, item, req.Quantity)
	})
	if err != nil {
		log.Printf("❌ [SAGA SELL] FAILED for OrderID=%s : %v", req.OrderID, err)
		if isBusinessFailure(err) {
			return fmt.Errorf("%w: %v", dtmcli.ErrFailure, err)
		}
		return err
	}

	log.Printf("✅ [SAGA SELL] Success: OrderID=%s", req.OrderID)
	return nil
}

// CompensateSellBranch devolve o estoque baixado por SellBranch
func (uc *SagaSaleUseCase) CompensateSellBranch(ctx context.Context, barrier *dtmcli.BranchBarrier, req SagaSellRequest) error {
	log.Printf("↩️ [SAGA COMPENSATE] GID: %s | OrderID: %s | MenuItemID: %s",
		barrier.Gid, req.OrderID, req.MenuItemID)

	err := barrier.CallWithDB(uc.db, func(tx *sql.Tx) error {
		if err := uc.setLockTimeout(ctx, tx); err != nil {
			return classifyPqError(err)
		}
		stx := &SQLTx{tx: tx}
		item, err := uc.store.GetMenuItemForShare(ctx, stx, req.MenuItemID)
		if errors.Is(err, ErrNotFound) {
			// sem receita não há como devolver; a compensação é dada como concluída
			log.Printf("ℹ️ [SAGA COMPENSATE] menu item %s no longer exists for OrderID=%s", req.MenuItemID, req.OrderID)
			return nil
		}
		if err != nil {
			return err
		}
		return applyRestore(ctx, uc.store, stx, item, req.Quantity)
	})
	if err != nil {
		log.Printf("❌ [SAGA COMPENSATE] FAILED for OrderID=%s : %v", req.OrderID, err)
		return err
	}

	log.Printf("✅ [SAGA COMPENSATE] Success: OrderID=%s", req.OrderID)
	return nil
}

// SagaHandler contém os handlers HTTP dos branches de saga
type SagaHandler struct {
	useCase *SagaSaleUseCase
	tracer  trace.Tracer
}

// NewSagaHandler cria uma nova instância de SagaHandler
func NewSagaHandler(useCase *SagaSaleUseCase, tracer trace.Tracer) *SagaHandler {
	return &SagaHandler{useCase: useCase, tracer: tracer}
}

func (h *SagaHandler) bind(c *gin.Context) (*dtmcli.BranchBarrier, *SagaSellRequest, bool) {
	var req SagaSellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
		return nil, nil, false
	}

	barrier, err := dtmcli.BarrierFromQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
		return nil, nil, false
	}
	return barrier, &req, true
}

// Sell é o endpoint da ação SAGA para vender um item
func (h *SagaHandler) Sell(c *gin.Context) {
	barrier, req, ok := h.bind(c)
	if !ok {
		return
	}

	ctx, span := startSpanFromPayload(c.Request.Context(), h.tracer, "saga_sell", req.TraceID, req.SpanID)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("menu_item_id", req.MenuItemID),
		attribute.String("dtm_gid", barrier.Gid),
	)

	if err := h.useCase.SellBranch(ctx, barrier, *req); err != nil {
		span.RecordError(err)
		if errors.Is(err, dtmcli.ErrFailure) {
			c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorKind(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
}

// CompensateSell é o endpoint da compensação SAGA
func (h *SagaHandler) CompensateSell(c *gin.Context) {
	barrier, req, ok := h.bind(c)
	if !ok {
		return
	}

	ctx, span := startSpanFromPayload(c.Request.Context(), h.tracer, "saga_compensate_sell", req.TraceID, req.SpanID)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("menu_item_id", req.MenuItemID),
		attribute.String("dtm_gid", barrier.Gid),
	)

	if err := h.useCase.CompensateSellBranch(ctx, barrier, *req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorKind(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
}
