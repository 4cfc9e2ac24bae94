package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// conexões keep-alive do transport do resty
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakePOS simula o endpoint de venda com um estoque inteiro em memória
type fakePOS struct {
	mu    sync.Mutex
	stock int
}

func (f *fakePOS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/menu-items/pizza/sell", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Quantity int `json:"quantity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.stock < body.Quantity {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "insufficient_stock", Message: "Not enough Flour in stock"})
			return
		}
		f.stock -= body.Quantity
		writeJSON(w, http.StatusOK, saleConfirmation{MenuItemID: "pizza", Quantity: body.Quantity, Message: "Sold"})
	})
	mux.HandleFunc("/menu-items/busy/sell", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, apiError{Error: "conflict", Message: "try again"})
	})
	mux.HandleFunc("/menu-items/pizza", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, MenuItem{ID: "pizza", Name: "Pizza"})
	})
	mux.HandleFunc("/ingredients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Ingredient{
			{ID: "flour", Name: "Flour", Quantity: decimal.RequireFromString("3.5"), Unit: "kg"},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeServer(t *testing.T, stock int) (*fakePOS, *POSClient) {
	t.Helper()
	fake := &fakePOS{stock: stock}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, NewPOSClient(srv.URL, 5*time.Second)
}

func TestPOSClient_Sell(t *testing.T) {
	_, client := newFakeServer(t, 2)
	ctx := context.Background()

	outcome, err := client.Sell(ctx, "pizza", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, outcome)

	outcome, err = client.Sell(ctx, "pizza", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficient, outcome)

	outcome, err = client.Sell(ctx, "busy", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	outcome, err = client.Sell(ctx, "unknown", 1)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestPOSClient_ReadEndpoints(t *testing.T) {
	_, client := newFakeServer(t, 0)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	item, err := client.GetMenuItem(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, "Pizza", item.Name)

	list, err := client.ListIngredients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Quantity.Equal(decimal.RequireFromString("3.5")))

	_, err = client.GetMenuItem(ctx, "missing")
	assert.Error(t, err)
}

func TestPOSClient_ListIngredientsRejectsNonJSON(t *testing.T) {
	// Arrange: proxy devolvendo uma página HTML com status 200
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()
	client := NewPOSClient(srv.URL, 5*time.Second)

	// Act
	list, err := client.ListIngredients(context.Background())

	// Assert
	assert.Error(t, err)
	assert.Empty(t, list)
}

func TestPOSClient_DecodesJSONWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"eggs","name":"Eggs","quantity":-2,"unit":"pcs"}]`))
	}))
	defer srv.Close()
	client := NewPOSClient(srv.URL, 5*time.Second)

	list, err := client.ListIngredients(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, NegativeStock(list), 1)
}

func TestRun_NeverSellsMoreThanStock(t *testing.T) {
	// Arrange
	fake, client := newFakeServer(t, 25)

	// Act
	report := Run(context.Background(), client, "pizza", 60, 8, 1)

	// Assert
	assert.Equal(t, int64(60), report.Requests)
	assert.Equal(t, int64(25), report.Sold)
	assert.Equal(t, int64(35), report.Insufficient)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 0, fake.stock)
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, client := newFakeServer(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := Run(ctx, client, "pizza", 100, 4, 1)

	assert.Less(t, report.Requests, int64(100))
}

func TestNegativeStock(t *testing.T) {
	list := []Ingredient{
		{Name: "Flour", Quantity: decimal.RequireFromString("0")},
		{Name: "Eggs", Quantity: decimal.RequireFromString("-1")},
	}

	negative := NegativeStock(list)

	require.Len(t, negative, 1)
	assert.Equal(t, "Eggs", negative[0].Name)
}

func TestReportString(t *testing.T) {
	r := Report{Requests: 3, Sold: 2, Insufficient: 1, Duration: 1500 * time.Millisecond}

	assert.Equal(t, "requests=3 sold=2 insufficient=1 conflicts=0 rejected=0 failed=0 duration=1.5s", r.String())
}
