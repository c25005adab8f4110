package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/archdash/sessiontag/loadtest/client"
	"github.com/archdash/sessiontag/loadtest/stats"
)

type stateMsg struct {
	Type   string            `json:"type"`
	Values map[string]string `json:"values"`
}

// runState opens pairs of tabs. One tab of each pair writes state rounds and
// times the push; the other must never see a push, since it owns a different
// workspace.
func runState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8050", "sessiontag server base URL")
	key := fs.String("key", client.DefaultKey, "Marker query parameter")
	pairs := fs.Int("pairs", 100, "Number of tab pairs")
	rounds := fs.Int("rounds", 20, "State writes per writer tab")
	gap := fs.Duration("gap", 50*time.Millisecond, "Delay between writes")
	fs.Parse(args)

	fmt.Printf("State test: %d pairs x %d rounds against %s\n", *pairs, *rounds, *baseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var wg sync.WaitGroup

	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pair int) {
			defer wg.Done()
			runPair(ctx, collector, *baseURL, *key, pair, *rounds, *gap)
		}(i)
	}
	wg.Wait()

	if v := collector.Violations(); v > 0 {
		fmt.Printf("\nISOLATION VIOLATIONS: %d\n", v)
	}
	collector.Report()
}

func runPair(ctx context.Context, collector *stats.Collector, baseURL, key string, pair, rounds int, gap time.Duration) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	writer, err := openBound(openCtx, baseURL, key, collector)
	if err != nil {
		return
	}
	defer writer.Close()
	observer, err := openBound(openCtx, baseURL, key, collector)
	if err != nil {
		return
	}
	defer observer.Close()

	observer.On(client.TypeState, func(json.RawMessage) {
		collector.AddViolation()
	})

	pushes := make(chan map[string]string, 1)
	writer.On(client.TypeState, func(raw json.RawMessage) {
		var msg stateMsg
		if json.Unmarshal(raw, &msg) == nil {
			select {
			case pushes <- msg.Values:
			default:
			}
		}
	})

	for r := 0; r < rounds; r++ {
		value := fmt.Sprintf("pair-%d-round-%d", pair, r)
		start := time.Now()
		if err := writer.SetState("loadcheck", value); err != nil {
			collector.AddError()
			return
		}

		select {
		case <-ctx.Done():
			return
		case values := <-pushes:
			if values["loadcheck"] != value {
				collector.AddError()
				continue
			}
			collector.AddPushLatency(time.Since(start))
		case <-time.After(5 * time.Second):
			collector.AddError()
		}
		time.Sleep(gap)
	}
}

func openBound(ctx context.Context, baseURL, key string, collector *stats.Collector) (*client.Tab, error) {
	tab, err := client.Open(ctx, baseURL, key)
	if err != nil {
		collector.AddError()
		return nil, err
	}
	if err := tab.WaitBound(ctx); err != nil {
		collector.AddError()
		tab.Close()
		return nil, err
	}
	m := tab.GetMetrics()
	collector.AddTab(tab.SID(), m.TagLatency, m.ConnectLatency)
	return tab, nil
}
