package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// SaleOutcome classifica o resultado de uma venda do ponto de vista do gerador
type SaleOutcome string

const (
	OutcomeSold         SaleOutcome = "sold"
	OutcomeInsufficient SaleOutcome = "insufficient_stock"
	OutcomeConflict     SaleOutcome = "conflict"
	OutcomeRejected     SaleOutcome = "rejected"
	OutcomeFailed       SaleOutcome = "failed"
)

// apiError é o corpo de erro devolvido pelo serviço POS
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type saleConfirmation struct {
	MenuItemID   string `json:"menu_item_id"`
	MenuItemName string `json:"menu_item_name"`
	Quantity     int    `json:"quantity"`
	Message      string `json:"message"`
}

// Ingredient é a visão do gerador sobre um ingrediente
type Ingredient struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

type menuItemIngredient struct {
	IngredientID string          `json:"ingredientId"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// MenuItem é a visão do gerador sobre um item do menu
type MenuItem struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Ingredients []menuItemIngredient `json:"ingredients"`
}

// POSClient conversa com o serviço POS via HTTP
type POSClient struct {
	http *resty.Client
}

// NewPOSClient cria um cliente apontando para baseURL
func NewPOSClient(baseURL string, timeout time.Duration) *POSClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &POSClient{http: client}
}

// request força a decodificação JSON: uma resposta que não é JSON vira erro
// em vez de um resultado vazio
func (c *POSClient) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).ForceContentType("application/json")
}

// Health verifica se o serviço está de pé
func (c *POSClient) Health(ctx context.Context) error {
	resp, err := c.request(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode())
	}
	return nil
}

// Sell vende quantity unidades do item e classifica a resposta
func (c *POSClient) Sell(ctx context.Context, menuItemID string, quantity int) (SaleOutcome, error) {
	var (
		conf    saleConfirmation
		errBody apiError
	)
	resp, err := c.request(ctx).
		SetBody(map[string]int{"quantity": quantity}).
		SetResult(&conf).
		SetError(&errBody).
		Post("/menu-items/" + menuItemID + "/sell")
	if err != nil {
		return OutcomeFailed, err
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		return OutcomeSold, nil
	case errBody.Error == "insufficient_stock":
		return OutcomeInsufficient, nil
	case resp.StatusCode() == http.StatusConflict:
		return OutcomeConflict, nil
	default:
		return OutcomeFailed, fmt.Errorf("sell returned %d: %s", resp.StatusCode(), errBody.Message)
	}
}

// GetMenuItem busca um item do menu
func (c *POSClient) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var item MenuItem
	resp, err := c.request(ctx).SetResult(&item).Get("/menu-items/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get menu item %s returned %d", id, resp.StatusCode())
	}
	return &item, nil
}

// ListIngredients lista todos os ingredientes
func (c *POSClient) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	var list []Ingredient
	resp, err := c.request(ctx).SetResult(&list).Get("/ingredients")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list ingredients returned %d", resp.StatusCode())
	}
	return list, nil
}
