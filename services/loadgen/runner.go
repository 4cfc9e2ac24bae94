package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Seller é qualquer forma de disparar uma venda (HTTP direto ou saga do DTM)
type Seller interface {
	Sell(ctx context.Context, menuItemID string, quantity int) (SaleOutcome, error)
}

// Report resume uma rodada de carga
type Report struct {
	Requests     int64
	Sold         int64
	Insufficient int64
	Conflicts    int64
	Rejected     int64
	Failed       int64
	Duration     time.Duration
}

// Run dispara requests vendas com concurrency workers e conta os resultados
func Run(ctx context.Context, seller Seller, menuItemID string, requests, concurrency, quantity int) Report {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		report Report
		wg     sync.WaitGroup
		jobs   = make(chan struct{})
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for range jobs {
				atomic.AddInt64(&report.Requests, 1)
				outcome, err := seller.Sell(ctx, menuItemID, quantity)
				if err != nil {
					log.Printf("❌ [LOADGEN] worker %d: %v", worker, err)
				}
				switch outcome {
				case OutcomeSold:
					atomic.AddInt64(&report.Sold, 1)
				case OutcomeInsufficient:
					atomic.AddInt64(&report.Insufficient, 1)
				case OutcomeConflict:
					atomic.AddInt64(&report.Conflicts, 1)
				case OutcomeRejected:
					atomic.AddInt64(&report.Rejected, 1)
				default:
					atomic.AddInt64(&report.Failed, 1)
				}
			}
		}(w)
	}

loop:
	for i := 0; i < requests; i++ {
		select {
		case jobs <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
	}
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(start)
	return report
}
