package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SaleUseCase contém a lógica de baixa de estoque das vendas
type SaleUseCase struct {
	repository        CatalogRepository
	tracer            trace.Tracer
	maxAttempts       int
	salesCounter      metric.Int64Counter
	rejectionsCounter metric.Int64Counter
	retriesCounter    metric.Int64Counter
	restockCounter    metric.Int64Counter
}

// NewSaleUseCase cria uma nova instância de SaleUseCase
func NewSaleUseCase(repository CatalogRepository, tracer trace.Tracer, maxAttempts int) (*SaleUseCase, error) {
	meter := otel.Meter("pos-service")

	salesCounter, err := meter.Int64Counter("pos.sales.completed",
		metric.WithDescription("Sales committed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sales counter: %w", err)
	}
	rejectionsCounter, err := meter.Int64Counter("pos.sales.rejected",
		metric.WithDescription("Sales rejected, by reason"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rejections counter: %w", err)
	}
	retriesCounter, err := meter.Int64Counter("pos.sales.conflict_retries",
		metric.WithDescription("Sale transactions retried after a transient conflict"))
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}
	restockCounter, err := meter.Int64Counter("pos.ingredients.restocked",
		metric.WithDescription("Restock operations committed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create restock counter: %w", err)
	}

	return &SaleUseCase{
		repository:        repository,
		tracer:            tracer,
		maxAttempts:       maxAttempts,
		salesCounter:      salesCounter,
		rejectionsCounter: rejectionsCounter,
		retriesCounter:    retriesCounter,
		restockCounter:    restockCounter,
	}, nil
}

// stockNeed é a quantidade total de um ingrediente exigida por uma venda
type stockNeed struct {
	ingredientID string
	amount       decimal.Decimal
}

// computeNeeds multiplica as quantidades pela venda, somando ingredientes repetidos
// e preservando a ordem da primeira ocorrência
func computeNeeds(entries []MenuItemIngredient, saleQuantity int) []stockNeed {
	multiplier := decimal.NewFromInt(int64(saleQuantity))
	index := make(map[string]int, len(entries))
	needs := make([]stockNeed, 0, len(entries))
	for _, entry := range entries {
		amount := entry.Quantity.Mul(multiplier)
		if i, ok := index[entry.IngredientID]; ok {
			needs[i].amount = needs[i].amount.Add(amount)
			continue
		}
		index[entry.IngredientID] = len(needs)
		needs = append(needs, stockNeed{ingredientID: entry.IngredientID, amount: amount})
	}
	return needs
}

func needIDs(needs []stockNeed) []string {
	ids := make([]string, len(needs))
	for i, n := range needs {
		ids[i] = n.ingredientID
	}
	return ids
}

// applySale valida todos os ingredientes antes de diminuir qualquer um.
// Não faz commit: a transação pertence ao chamador.
func applySale(ctx context.Context, store StockStore, tx Tx, item *MenuItem, quantity int) error {
	needs := computeNeeds(item.Ingredients, quantity)

	rows, err := store.GetIngredientsForUpdate(ctx, tx, needIDs(needs))
	if err != nil {
		return err
	}

	for _, n := range needs {
		if _, ok := rows[n.ingredientID]; !ok {
			return unknownIngredient(n.ingredientID)
		}
	}

	for _, n := range needs {
		ing := rows[n.ingredientID]
		if ing.Quantity.LessThan(n.amount) {
			return &InsufficientStockError{
				IngredientID: ing.ID,
				Name:         ing.Name,
				Unit:         ing.Unit,
				Required:     n.amount,
				Available:    ing.Quantity,
			}
		}
	}

	for _, n := range needs {
		if err := store.DecreaseStock(ctx, tx, n.ingredientID, n.amount); err != nil {
			return err
		}
	}

	return store.RecordActivity(ctx, tx, NewActivity(ActivitySold, item.Name, decimal.NewFromInt(int64(quantity))))
}

// applyRestore devolve ao estoque o que uma venda consumiu
func applyRestore(ctx context.Context, store StockStore, tx Tx, item *MenuItem, quantity int) error {
	needs := computeNeeds(item.Ingredients, quantity)

	rows, err := store.GetIngredientsForUpdate(ctx, tx, needIDs(needs))
	if err != nil {
		return err
	}

	for _, n := range needs {
		// ingrediente removido depois da venda: nada a devolver
		if _, ok := rows[n.ingredientID]; !ok {
			continue
		}
		if err := store.IncreaseStock(ctx, tx, n.ingredientID, n.amount); err != nil {
			return err
		}
	}

	return store.RecordActivity(ctx, tx, NewActivity(ActivityAdded, item.Name, decimal.NewFromInt(int64(quantity))))
}

func validateSaleQuantity(quantity int) error {
	if quantity < 1 {
		return invalidQuantity("quantity must be a positive integer")
	}
	return nil
}

// Sell vende um item do menu com lock pessimista sobre todos os ingredientes
func (uc *SaleUseCase) Sell(ctx context.Context, menuItemID string, quantity int) (conf *SaleConfirmation, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.Sell")
	span.SetAttributes(
		attribute.String("menu_item_id", menuItemID),
		attribute.Int("quantity", quantity),
	)
	defer func() {
		if err != nil {
			uc.rejectionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", errorKind(err))))
		}
		finishSpan(span, err)
	}()

	log.Printf("➡️ [SELL] MenuItemID: %s | Quantity: %d", menuItemID, quantity)

	if err := validateSaleQuantity(quantity); err != nil {
		return nil, err
	}

	onRetry := func(attempt int, err error) {
		uc.retriesCounter.Add(ctx, 1)
		log.Printf("🔁 [SELL] conflict on attempt %d for MenuItemID=%s: %v", attempt, menuItemID, err)
	}

	// a receita é lida sob lock na mesma transação da baixa
	var item *MenuItem
	err = runInTx(ctx, uc.repository, uc.maxAttempts, onRetry, func(tx Tx) error {
		found, err := uc.repository.GetMenuItemForShare(ctx, tx, menuItemID)
		if err != nil {
			return err
		}
		item = found
		return applySale(ctx, uc.repository, tx, item, quantity)
	})
	if err != nil {
		log.Printf("❌ [SELL] FAILED | MenuItemID=%s | Error=%v", menuItemID, err)
		return nil, err
	}

	uc.salesCounter.Add(ctx, 1)
	log.Printf("✅ [SELL] Success: %d x %s", quantity, item.Name)

	return &SaleConfirmation{
		MenuItemID:   item.ID,
		MenuItemName: item.Name,
		Quantity:     quantity,
		Message:      fmt.Sprintf("Sold %d %s", quantity, item.Name),
	}, nil
}

// Restock soma uma quantidade ao estoque de um ingrediente
func (uc *SaleUseCase) Restock(ctx context.Context, ingredientID string, amount decimal.Decimal) (ing *Ingredient, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.Restock")
	span.SetAttributes(
		attribute.String("ingredient_id", ingredientID),
		attribute.String("amount", amount.String()),
	)
	defer func() { finishSpan(span, err) }()

	if err := checkPositive("quantity", amount); err != nil {
		return nil, err
	}

	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		found, err := uc.repository.GetIngredientsForUpdate(ctx, tx, []string{ingredientID})
		if err != nil {
			return err
		}
		current, ok := found[ingredientID]
		if !ok {
			return ingredientNotFound(ingredientID)
		}
		if current.Quantity.Add(amount).GreaterThanOrEqual(maxQuantity) {
			return invalidQuantity("stock of %s would exceed %s", current.Name, maxQuantity)
		}
		if err := uc.repository.IncreaseStock(ctx, tx, ingredientID, amount); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityAdded, current.Name, amount))
	})
	if err != nil {
		log.Printf("❌ [RESTOCK] FAILED | IngredientID=%s | Error=%v", ingredientID, err)
		return nil, err
	}

	uc.restockCounter.Add(ctx, 1)
	log.Printf("✅ [RESTOCK] IngredientID=%s +%s", ingredientID, amount.String())
	return uc.repository.GetIngredient(ctx, ingredientID)
}
