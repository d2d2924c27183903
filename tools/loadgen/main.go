package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/txstream/internal/pkg/logger"
	"github.com/user/txstream/internal/stream"
	"github.com/user/txstream/internal/txgen"
)

// loadgen drives the embedded stream store directly: concurrent producers
// publish generated transactions at a bounded rate while consumers in one
// group read and ack them. It reports end-to-end throughput.
func main() {
	dataDir := flag.String("dir", "", "Store directory (default: temp dir, removed afterwards)")
	producers := flag.Int("p", 4, "Number of concurrent producers")
	consumers := flag.Int("c", 2, "Number of concurrent consumers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	tps := flag.Int("tps", 5000, "Transactions per second limit across all producers")
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "loadgen")
		if err != nil {
			log.Fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	store, err := stream.Open(dir, stream.StoreOptions{}, logger.New("warn"))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	const streamName = "transactions"
	const group = "loadgen"
	if err := store.CreateGroup(streamName, group, stream.StartBeginning); err != nil {
		log.Fatalf("failed to create group: %v", err)
	}

	log.Printf("Starting load test in %s", dir)
	log.Printf("Producers: %d, Consumers: %d, Duration: %s, TPS: %d", *producers, *consumers, *duration, *tps)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*tps), 100) // Allow bursts up to 100

	var wg sync.WaitGroup
	var published, delivered, acked, errors atomic.Int64

	for i := 0; i < *producers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			gen := txgen.NewGenerator(int64(workerID))

			for ctx.Err() == nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				payload, err := json.Marshal(gen.Normal())
				if err != nil {
					errors.Add(1)
					continue
				}
				if _, err := store.Append(streamName, payload); err != nil {
					errors.Add(1)
					continue
				}
				published.Add(1)
			}
		}(i)
	}

	for i := 0; i < *consumers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			consumer := fmt.Sprintf("consumer-%d", workerID)

			for ctx.Err() == nil {
				deliveries, err := store.ReadNext(ctx, streamName, group, consumer, 100, time.Second)
				if err != nil {
					errors.Add(1)
					continue
				}
				delivered.Add(int64(len(deliveries)))
				for _, d := range deliveries {
					if err := store.Ack(streamName, group, d.Offset); err != nil {
						errors.Add(1)
						continue
					}
					acked.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	elapsed := (*duration).Seconds()
	log.Printf("Published: %d (%.0f/s)", published.Load(), float64(published.Load())/elapsed)
	log.Printf("Delivered: %d, Acked: %d, Errors: %d", delivered.Load(), acked.Load(), errors.Load())

	pending, err := store.PendingEntries(streamName, group)
	if err == nil {
		log.Printf("Still pending at shutdown: %d", len(pending))
	}
}
