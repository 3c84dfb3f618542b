package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/orneryd/inflightdb/pkg/config"
	"github.com/orneryd/inflightdb/pkg/inflight"
	"github.com/orneryd/inflightdb/pkg/storage"
)

func newServeCmd() *cobra.Command {
	var dataDir string
	var serverID string
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a manual-testing REPL against an inflight.Handle",
		Long: `serve constructs a storage engine and an inflight.Handle, subscribes
a logging consumer to its event stream, and drives a line-oriented REPL
over stdin:

  open client                open a client transaction, prints its id
  open replication <secret>  open a replication transaction, verifying
                             <secret> against the configured peer secret
                             hash when one is set
  add <tx> <doc> <json>      stage a document write
  delete <tx> <doc>          stage a document delete
  commit <tx>                complete a transaction
  registered <doc>           print whether a document has open references
  quit                       exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dataDir, serverID, inMemory)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Data directory")
	cmd.Flags().StringVar(&serverID, "server-id", "node-0", "This node's server id")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Run storage in-memory instead of on disk")
	return cmd
}

func runServe(dataDir, serverID string, inMemory bool) error {
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

	stdr.SetVerbosity(cfg.Logging.Verbosity)
	logger := stdr.New(log.Default())
	opts := []inflight.Option{inflight.WithLogger(logger)}
	if cfg.Replication.PeerSecretHash != "" {
		opts = append(opts, inflight.WithPeerSecretHash(cfg.Replication.PeerSecretHash))
	}
	handle := inflight.Create(engine, cfg.Node.ServerID, opts...)

	sink := handle.Subscribe()
	defer sink.Unsubscribe()
	go func() {
		for ev := range sink.Events() {
			logger.Info("event", "kind", ev.Kind.String(), "txid", ev.TxId, "docid", string(ev.DocId), "proposed", ev.Proposed)
		}
	}()

	fmt.Println("inflightdb serve — type 'quit' to exit")
	return repl(context.Background(), handle, os.Stdin, os.Stdout)
}

func openEngine(cfg *config.Config) (storage.Engine, error) {
	if cfg.Storage.InMemory {
		return storage.NewMemoryEngine(), nil
	}
	return storage.NewBadgerEngine(storage.BadgerOptions{
		DataDir:           cfg.Storage.DataDir,
		SyncWrites:        cfg.Storage.SyncWrites,
		MetadataCacheSize: cfg.Storage.MetadataCacheSize,
	})
}

func repl(ctx context.Context, h *inflight.Handle, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 4)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "open":
			source := inflight.Client
			if len(fields) > 1 && strings.EqualFold(fields[1], "replication") {
				source = inflight.Replication
			}
			var secret string
			if len(fields) > 2 {
				secret = fields[2]
			}
			txid, err := h.Open(ctx, source, secret)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintln(out, "tx:", txid)
		case "add":
			if len(fields) < 4 {
				fmt.Fprintln(out, "usage: add <tx> <doc> <json>")
				continue
			}
			txid, err := parseTxId(fields[1])
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if err := h.AddDocument(ctx, txid, storage.DocID(fields[2]), []byte(fields[3]), storage.Metadata{}); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintln(out, "ok")
		case "delete":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: delete <tx> <doc>")
				continue
			}
			txid, err := parseTxId(fields[1])
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if err := h.DeleteDocument(ctx, txid, storage.DocID(fields[2]), storage.Metadata{}); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintln(out, "ok")
		case "commit":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: commit <tx>")
				continue
			}
			txid, err := parseTxId(fields[1])
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if err := h.Complete(ctx, txid); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintln(out, "committed")
		case "registered":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: registered <doc>")
				continue
			}
			fmt.Fprintln(out, h.IsRegistered(storage.DocID(fields[1])))
		default:
			fmt.Fprintln(out, "unknown command:", fields[0])
		}
	}
}

func parseTxId(s string) (inflight.TxId, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tx id %q: %w", s, err)
	}
	return inflight.TxId(n), nil
}
