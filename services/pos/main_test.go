package main

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	decimal.MarshalJSONWithoutQuotes = true
	goleak.VerifyTestMain(m,
		// conexões keep-alive com o daemon do docker e o reaper dos containers de teste
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreAnyFunction("github.com/testcontainers/testcontainers-go.(*Reaper).Connect.func1"),
	)
}

var testTracer trace.Tracer = noop.NewTracerProvider().Tracer("pos-test")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testEnv reúne o repositório em memória e os casos de uso sobre ele
type testEnv struct {
	repo    *MemoryCatalogRepository
	catalog *CatalogUseCase
	sales   *SaleUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewMemoryCatalogRepository(200 * time.Millisecond)
	sales, err := NewSaleUseCase(repo, testTracer, 3)
	require.NoError(t, err)
	return &testEnv{
		repo:    repo,
		catalog: NewCatalogUseCase(repo, testTracer, 3),
		sales:   sales,
	}
}

func (e *testEnv) ingredient(t *testing.T, name, quantity string, unit Unit, threshold string) *Ingredient {
	t.Helper()
	ing, err := e.catalog.CreateIngredient(context.Background(), IngredientInput{
		Name:      name,
		Quantity:  dec(quantity),
		Unit:      unit,
		Threshold: dec(threshold),
	})
	require.NoError(t, err)
	return ing
}

func (e *testEnv) menuItem(t *testing.T, name string, entries ...MenuItemIngredient) *MenuItem {
	t.Helper()
	item, err := e.catalog.CreateMenuItem(context.Background(), MenuItemInput{Name: name, Ingredients: entries})
	require.NoError(t, err)
	return item
}

func (e *testEnv) stock(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	ing, err := e.repo.GetIngredient(context.Background(), id)
	require.NoError(t, err)
	return ing.Quantity
}

func uses(ing *Ingredient, quantity string) MenuItemIngredient {
	return MenuItemIngredient{IngredientID: ing.ID, Quantity: dec(quantity)}
}
