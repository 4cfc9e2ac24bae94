package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
)

type seedIngredient struct {
	name      string
	quantity  string
	unit      Unit
	threshold string
}

type seedEntry struct {
	ingredient string
	quantity   string
}

type seedMenuItem struct {
	name    string
	entries []seedEntry
}

var demoIngredients = []seedIngredient{
	{"Flour", "5", UnitKilogram, "2"},
	{"Eggs", "24", UnitPieces, "10"},
	{"Olive Oil", "0.5", UnitLiter, "1"},
	{"Tomatoes", "8", UnitKilogram, "5"},
	{"Parmesan", "1.2", UnitKilogram, "1"},
	{"Garlic", "0.3", UnitKilogram, "0.2"},
	{"Basil", "0.1", UnitKilogram, "0.05"},
	{"Salt", "2", UnitKilogram, "0.5"},
	{"Pepper", "0.8", UnitKilogram, "0.2"},
	{"Pork Guanciale", "1.5", UnitKilogram, "0.5"},
}

var demoMenuItems = []seedMenuItem{
	{"Carbonara", []seedEntry{{"Eggs", "3"}, {"Parmesan", "0.1"}, {"Pork Guanciale", "0.2"}}},
	{"Margherita Pizza", []seedEntry{{"Flour", "0.5"}, {"Tomatoes", "0.4"}, {"Parmesan", "0.2"}, {"Basil", "0.05"}}},
	{"Bruschetta", []seedEntry{{"Flour", "0.2"}, {"Tomatoes", "0.3"}, {"Garlic", "0.05"}, {"Basil", "0.03"}, {"Olive Oil", "0.05"}}},
}

// seedDemoCatalog carrega o catálogo de demonstração se ainda não houver ingredientes
func seedDemoCatalog(ctx context.Context, catalog *CatalogUseCase) error {
	existing, err := catalog.ListIngredients(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Println("ℹ️ [SEED] catalog not empty, skipping demo data")
		return nil
	}

	ids := make(map[string]string, len(demoIngredients))
	for _, s := range demoIngredients {
		ing, err := catalog.CreateIngredient(ctx, IngredientInput{
			Name:      s.name,
			Quantity:  decimal.RequireFromString(s.quantity),
			Unit:      s.unit,
			Threshold: decimal.RequireFromString(s.threshold),
		})
		if err != nil {
			return fmt.Errorf("seed ingredient %s: %w", s.name, err)
		}
		ids[s.name] = ing.ID
	}

	for _, s := range demoMenuItems {
		entries := make([]MenuItemIngredient, 0, len(s.entries))
		for _, e := range s.entries {
			entries = append(entries, MenuItemIngredient{
				IngredientID: ids[e.ingredient],
				Quantity:     decimal.RequireFromString(e.quantity),
			})
		}
		if _, err := catalog.CreateMenuItem(ctx, MenuItemInput{Name: s.name, Ingredients: entries}); err != nil {
			return fmt.Errorf("seed menu item %s: %w", s.name, err)
		}
	}

	log.Printf("✅ [SEED] demo catalog loaded: %d ingredients, %d menu items", len(demoIngredients), len(demoMenuItems))
	return nil
}
