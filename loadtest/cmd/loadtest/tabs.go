package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/archdash/sessiontag/loadtest/client"
	"github.com/archdash/sessiontag/loadtest/stats"
)

// runTabs opens tabs at a steady rate, holds them, and reports tagging and
// bind latencies. Every tab must receive a distinct marker.
func runTabs(args []string) {
	fs := flag.NewFlagSet("tabs", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8050", "sessiontag server base URL")
	key := fs.String("key", client.DefaultKey, "Marker query parameter")
	tabs := fs.Int("tabs", 500, "Number of tabs to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 15*time.Second, "Hold duration after all tabs are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous tab opens during ramp-up")
	scrape := fs.Bool("scrape", true, "Scrape server /metrics during the run")
	fs.Parse(args)

	fmt.Printf("Tabs test: %d tabs against %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*tabs, *baseURL, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *scrape {
		scraper := stats.NewScraper(*baseURL+"/metrics", time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var mu sync.Mutex
	open := make([]*client.Tab, 0, *tabs)

	// -----------------------------------------------------------------------
	// Ramp-up phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*tabs)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	interrupted := false

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	for launched := 0; launched < *tabs && !interrupted; {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				tab, err := client.Open(openCtx, *baseURL, *key)
				if err != nil {
					collector.AddError()
					return
				}
				if err := tab.WaitBound(openCtx); err != nil {
					collector.AddError()
					tab.Close()
					return
				}

				m := tab.GetMetrics()
				collector.AddTab(tab.SID(), m.TagLatency, m.ConnectLatency)

				mu.Lock()
				open = append(open, tab)
				mu.Unlock()
			}()
		}
	}
	rampTicker.Stop()
	wg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d tabs in %s (%d errors, %d duplicate markers)\n",
		collector.TabCount(), *tabs, time.Since(rampStart).Round(time.Millisecond),
		collector.ErrorCount(), collector.Duplicates())

	// -----------------------------------------------------------------------
	// Hold phase
	// -----------------------------------------------------------------------
	if !interrupted {
		fmt.Printf("\n--- Hold phase (%s) ---\n", *hold)
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
		case <-time.After(*hold):
		}

		mu.Lock()
		dropped := 0
		for _, tab := range open {
			if tab.GetMetrics().Errors > 0 {
				dropped++
			}
		}
		mu.Unlock()
		fmt.Printf("Tabs with errors after hold: %d\n", dropped)
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	mu.Lock()
	for _, tab := range open {
		tab.Close()
	}
	mu.Unlock()

	collector.Report()
}
