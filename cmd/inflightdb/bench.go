package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/inflightdb/pkg/config"
	"github.com/orneryd/inflightdb/pkg/inflight"
	"github.com/orneryd/inflightdb/pkg/storage"
)

func newBenchCmd() *cobra.Command {
	var dataDir string
	var serverID string
	var inMemory bool
	var docCount int
	var workers int
	var opsPerWorker int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent client transactions and report classification counts",
		Long: `bench opens many concurrent client transactions against a shared
pool of synthetic document ids, staging one write per transaction and
completing it immediately, then reports how many operations were
classified write, skip, or conflict — exercising the concurrency model
under load.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(dataDir, serverID, inMemory, docCount, workers, opsPerWorker)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Data directory")
	cmd.Flags().StringVar(&serverID, "server-id", "bench-node", "This node's server id")
	cmd.Flags().BoolVar(&inMemory, "in-memory", true, "Run storage in-memory instead of on disk")
	cmd.Flags().IntVar(&docCount, "docs", 1000, "Number of distinct synthetic documents")
	cmd.Flags().IntVar(&workers, "workers", 8, "Number of concurrent worker goroutines")
	cmd.Flags().IntVar(&opsPerWorker, "ops-per-worker", 200, "Transactions each worker opens")
	return cmd
}

func runBench(dataDir, serverID string, inMemory bool, docCount, workers, opsPerWorker int) error {
	cfg := config.LoadFromEnv()
	cfg.Node.ServerID = serverID
	cfg.Storage.InMemory = inMemory
	cfg.Storage.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	handle := inflight.Create(engine, cfg.Node.ServerID)

	var writes, skips, conflicts, errs atomic.Int64
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				id := storage.DocID(fmt.Sprintf("doc-%d", rng.Intn(docCount)))
				status, err := stageAndCommit(ctx, handle, id)
				if err != nil {
					errs.Add(1)
					continue
				}
				switch status {
				case inflight.Write:
					writes.Add(1)
				case inflight.Skip:
					skips.Add(1)
				case inflight.Conflict:
					conflicts.Add(1)
				}
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("workers=%d ops=%d docs=%d elapsed=%s\n", workers, workers*opsPerWorker, docCount, elapsed)
	fmt.Printf("write=%d skip=%d conflict=%d error=%d\n", writes.Load(), skips.Load(), conflicts.Load(), errs.Load())
	return nil
}

// stageAndCommit opens a client transaction, stages a single add against
// id, completes it, and returns the classification status it observed.
func stageAndCommit(ctx context.Context, h *inflight.Handle, id storage.DocID) (inflight.Status, error) {
	txid, err := h.Open(ctx, inflight.Client)
	if err != nil {
		return 0, err
	}
	if err := h.AddDocument(ctx, txid, id, []byte(`{"bench":true}`), storage.Metadata{}); err != nil {
		return 0, err
	}
	status := h.OperationStatus(txid, id)
	if err := h.Complete(ctx, txid); err != nil {
		return 0, err
	}
	return status, nil
}
