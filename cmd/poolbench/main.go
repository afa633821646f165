// poolbench drives a pool with concurrent workers and prints its
// timing stats. With -pg it runs against postgres, otherwise against
// an in-process mock factory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/poolworks/connpool/pgfactory"
	"github.com/poolworks/connpool/pool"
)

func main() {
	size := flag.Int("size", 4, "pool capacity")
	workers := flag.Int("workers", 16, "concurrent workers")
	ops := flag.Int("ops", 100, "operations per worker")
	pgURL := flag.String("pg", "", "postgres url (mock factory if empty)")
	cmd := flag.String("cmd", "", "command to run (defaults per factory)")
	flag.Parse()

	var factory pool.Factory
	if *pgURL != "" {
		factory = pgfactory.New(*pgURL)
		if *cmd == "" {
			*cmd = "SELECT 1 AS one"
		}
	} else {
		factory = pool.NewMockFactory()
		if *cmd == "" {
			*cmd = "bench"
		}
	}

	p := pool.New(factory,
		pool.Max(*size),
		pool.AcquireTimeout(30*time.Second),
	)

	ctx := context.Background()
	start := time.Now()

	runner := concpool.New().WithMaxGoroutines(*workers)
	total := (*workers) * (*ops)
	for i := 0; i < total; i++ {
		runner.Go(func() {
			if _, err := p.Do(ctx, *cmd); err != nil {
				log.Printf("poolbench: do: %v", err)
			}
		})
	}
	runner.Wait()
	elapsed := time.Since(start)

	if err := p.End(ctx); err != nil {
		log.Fatalf("poolbench: end: %v", err)
	}

	buf, err := json.MarshalIndent(p.Stats(), "", "  ")
	if err != nil {
		log.Fatalf("poolbench: encode stats: %v", err)
	}
	fmt.Printf("%d ops in %v (%.0f ops/sec)\n%s\n",
		total, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds(), buf)
}
