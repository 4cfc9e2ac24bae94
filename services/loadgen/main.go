package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	posURL := getEnv("POS_URL", "http://localhost:8080")
	menuItemID := getEnv("MENU_ITEM_ID", "")
	requests := getEnvInt("REQUESTS", 200)
	concurrency := getEnvInt("CONCURRENCY", 20)
	quantity := getEnvInt("SALE_QUANTITY", 1)
	mode := getEnv("MODE", "direct")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewPOSClient(posURL, 10*time.Second)
	if err := client.Health(ctx); err != nil {
		log.Fatalf("POS service is not healthy: %v", err)
	}

	if menuItemID == "" {
		log.Fatalf("MENU_ITEM_ID is required")
	}
	item, err := client.GetMenuItem(ctx, menuItemID)
	if err != nil {
		log.Fatalf("Failed to load menu item: %v", err)
	}

	var seller Seller = client
	if mode == "saga" {
		seller = NewDTMSeller(getEnv("DTM_SERVER", "http://localhost:36789/api/dtmsvr"), getEnv("POS_SAGA_URL", posURL))
	}

	log.Printf("🚀 [LOADGEN] %d sales of %q (x%d) with %d workers, mode=%s", requests, item.Name, quantity, concurrency, mode)
	report := Run(ctx, seller, item.ID, requests, concurrency, quantity)
	log.Printf("📊 [LOADGEN] %s", report)

	ingredients, err := client.ListIngredients(ctx)
	if err != nil {
		log.Fatalf("Failed to list ingredients: %v", err)
	}
	if negative := NegativeStock(ingredients); len(negative) > 0 {
		for _, ing := range negative {
			log.Printf("❌ [LOADGEN] %s is negative: %s %s", ing.Name, ing.Quantity, ing.Unit)
		}
		os.Exit(1)
	}
	log.Println("✅ [LOADGEN] no ingredient went below zero")
}

func (r Report) String() string {
	return fmt.Sprintf("requests=%d sold=%d insufficient=%d conflicts=%d rejected=%d failed=%d duration=%s",
		r.Requests, r.Sold, r.Insufficient, r.Conflicts, r.Rejected, r.Failed, r.Duration.Round(time.Millisecond))
}

// NegativeStock devolve os ingredientes com quantidade abaixo de zero
func NegativeStock(ingredients []Ingredient) []Ingredient {
	var out []Ingredient
	for _, ing := range ingredients {
		if ing.Quantity.IsNegative() {
			out = append(out, ing)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return n
}
