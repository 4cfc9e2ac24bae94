package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SellRequest é o corpo de POST /menu-items/:id/sell; quantity ausente vale 1
type SellRequest struct {
	Quantity *int `json:"quantity"`
}

// RestockRequest é o corpo de POST /ingredients/:id/restock
type RestockRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// Pinger é a verificação de saúde do store
type Pinger interface {
	Ping(ctx context.Context) error
}

// POSHandler contém os handlers HTTP do catálogo e das vendas
type POSHandler struct {
	catalog *CatalogUseCase
	sales   *SaleUseCase
	store   Pinger
}

// NewPOSHandler cria uma nova instância de POSHandler
func NewPOSHandler(catalog *CatalogUseCase, sales *SaleUseCase, store Pinger) *POSHandler {
	return &POSHandler{
		catalog: catalog,
		sales:   sales,
		store:   store,
	}
}

// statusFor é o único lugar que traduz erros de domínio em status HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnknownIngredient),
		errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrIngredientInUse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": errorKind(err), "message": message})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
}

// RegisterRoutes registra as rotas da API no router
func (h *POSHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	r.GET("/ingredients", h.ListIngredients)
	r.POST("/ingredients", h.CreateIngredient)
	r.GET("/ingredients/:id", h.GetIngredient)
	r.PUT("/ingredients/:id", h.UpdateIngredient)
	r.DELETE("/ingredients/:id", h.DeleteIngredient)
	r.POST("/ingredients/:id/restock", h.Restock)

	r.GET("/menu-items", h.ListMenuItems)
	r.POST("/menu-items", h.CreateMenuItem)
	r.GET("/menu-items/:id", h.GetMenuItem)
	r.PUT("/menu-items/:id", h.UpdateMenuItem)
	r.DELETE("/menu-items/:id", h.DeleteMenuItem)
	r.POST("/menu-items/:id/sell", h.Sell)

	r.GET("/reports/low-stock", h.LowStock)
	r.GET("/reports/activity", h.Activities)
	r.GET("/reports/summary", h.Summary)
}

// NewRouter monta o engine gin com as rotas do POS e, se houver, as da saga
func NewRouter(h *POSHandler, saga *SagaHandler, middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware...)

	h.RegisterRoutes(r)

	if saga != nil {
		r.POST("/saga/sell", saga.Sell)
		r.POST("/saga/sell/compensate", saga.CompensateSell)
	}
	return r
}

// HealthCheck verifica a conexão com o store
func (h *POSHandler) HealthCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *POSHandler) ListIngredients(c *gin.Context) {
	list, err := h.catalog.ListIngredients(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *POSHandler) GetIngredient(c *gin.Context) {
	ing, err := h.catalog.GetIngredient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

func (h *POSHandler) CreateIngredient(c *gin.Context) {
	var in IngredientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	ing, err := h.catalog.CreateIngredient(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ing)
}

func (h *POSHandler) UpdateIngredient(c *gin.Context) {
	var in IngredientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	ing, err := h.catalog.UpdateIngredient(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

func (h *POSHandler) DeleteIngredient(c *gin.Context) {
	if err := h.catalog.DeleteIngredient(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ingredient deleted successfully"})
}

// Restock soma estoque a um ingrediente existente
func (h *POSHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ing, err := h.sales.Restock(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

func (h *POSHandler) ListMenuItems(c *gin.Context) {
	items, err := h.catalog.ListMenuItems(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *POSHandler) GetMenuItem(c *gin.Context) {
	item, err := h.catalog.GetMenuItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *POSHandler) CreateMenuItem(c *gin.Context) {
	var in MenuItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.catalog.CreateMenuItem(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *POSHandler) UpdateMenuItem(c *gin.Context) {
	var in MenuItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.catalog.UpdateMenuItem(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *POSHandler) DeleteMenuItem(c *gin.Context) {
	if err := h.catalog.DeleteMenuItem(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Menu item deleted successfully"})
}

// Sell é o endpoint de venda de um item do menu
func (h *POSHandler) Sell(c *gin.Context) {
	var req SellRequest
	// corpo vazio é aceito: vende uma unidade
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("menu_item_id", c.Param("id")))

	conf, err := h.sales.Sell(c.Request.Context(), c.Param("id"), quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conf)
}

func (h *POSHandler) LowStock(c *gin.Context) {
	list, err := h.catalog.LowStock(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Activities devolve o histórico; ?limit=n limita a quantidade
func (h *POSHandler) Activities(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, errors.New("limit must be an integer"))
			return
		}
		if n == 0 {
			badRequest(c, fmt.Errorf("limit must be between 1 and %d", maxActivityLimit))
			return
		}
		limit = n
	}

	list, err := h.catalog.Activities(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *POSHandler) Summary(c *gin.Context) {
	summary, err := h.catalog.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
