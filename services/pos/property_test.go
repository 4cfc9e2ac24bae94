package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

type stockOp struct {
	restock   bool
	item      int
	quantity  int
	amountMil int64
}

func stockOpGen(items int) *rapid.Generator[stockOp] {
	return rapid.Custom(func(t *rapid.T) stockOp {
		if rapid.Bool().Draw(t, "restock") {
			return stockOp{
				restock:   true,
				item:      rapid.IntRange(0, items-1).Draw(t, "ingredient"),
				amountMil: rapid.Int64Range(1, 3000).Draw(t, "amount"),
			}
		}
		return stockOp{
			item:     rapid.IntRange(0, items-1).Draw(t, "item"),
			quantity: rapid.IntRange(1, 4).Draw(t, "quantity"),
		}
	})
}

// Vendas e reposições concorrentes nunca deixam estoque negativo, e o saldo final
// é exatamente semente - vendas confirmadas + reposições confirmadas.
func TestStockConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		repo := NewMemoryCatalogRepository(time.Second)
		catalog := NewCatalogUseCase(repo, testTracer, 5)
		sales, err := NewSaleUseCase(repo, testTracer, 5)
		if err != nil {
			rt.Fatalf("new sale use case: %v", err)
		}

		const ingredientCount = 3
		ingredients := make([]*Ingredient, ingredientCount)
		seed := make(map[string]decimal.Decimal, ingredientCount)
		for i := range ingredients {
			qty := decimal.New(rapid.Int64Range(0, 5000).Draw(rt, "seed"), -3)
			ing, err := catalog.CreateIngredient(ctx, IngredientInput{
				Name:     string(rune('A' + i)),
				Quantity: qty,
				Unit:     UnitKilogram,
			})
			if err != nil {
				rt.Fatalf("create ingredient: %v", err)
			}
			ingredients[i] = ing
			seed[ing.ID] = qty
		}

		itemCount := rapid.IntRange(1, 3).Draw(rt, "items")
		items := make([]*MenuItem, itemCount)
		for i := range items {
			picks := rapid.SliceOfNDistinct(rapid.IntRange(0, ingredientCount-1), 1, ingredientCount, rapid.ID[int]).Draw(rt, "recipe")
			entries := make([]MenuItemIngredient, 0, len(picks))
			for _, p := range picks {
				entries = append(entries, MenuItemIngredient{
					IngredientID: ingredients[p].ID,
					Quantity:     decimal.New(rapid.Int64Range(1, 800).Draw(rt, "per_unit"), -3),
				})
			}
			item, err := catalog.CreateMenuItem(ctx, MenuItemInput{Name: "item", Ingredients: entries})
			if err != nil {
				rt.Fatalf("create menu item: %v", err)
			}
			items[i] = item
		}

		ops := rapid.SliceOfN(stockOpGen(itemCount), 1, 30).Draw(rt, "ops")

		var (
			mu       sync.Mutex
			expected = make(map[string]decimal.Decimal, ingredientCount)
			failures []error
			wg       sync.WaitGroup
		)
		for id, q := range seed {
			expected[id] = q
		}

		for _, op := range ops {
			wg.Add(1)
			go func(op stockOp) {
				defer wg.Done()
				if op.restock {
					target := ingredients[op.item%ingredientCount]
					amount := decimal.New(op.amountMil, -3)
					_, err := sales.Restock(ctx, target.ID, amount)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failures = append(failures, err)
						return
					}
					expected[target.ID] = expected[target.ID].Add(amount)
					return
				}

				item := items[op.item]
				_, err := sales.Sell(ctx, item.ID, op.quantity)
				if errors.Is(err, ErrInsufficientStock) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err)
					return
				}
				for _, n := range computeNeeds(item.Ingredients, op.quantity) {
					expected[n.ingredientID] = expected[n.ingredientID].Sub(n.amount)
				}
			}(op)
		}
		wg.Wait()

		if len(failures) > 0 {
			rt.Fatalf("unexpected failures: %v", failures)
		}

		for _, ing := range ingredients {
			got, err := repo.GetIngredient(ctx, ing.ID)
			if err != nil {
				rt.Fatalf("get ingredient: %v", err)
			}
			if got.Quantity.IsNegative() {
				rt.Fatalf("%s went negative: %s", ing.Name, got.Quantity)
			}
			if !got.Quantity.Equal(expected[ing.ID]) {
				rt.Fatalf("%s: expected %s, got %s", ing.Name, expected[ing.ID], got.Quantity)
			}
		}
	})
}
