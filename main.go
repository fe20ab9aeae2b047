// Command crabdb is a small demonstration CLI wiring the disk device,
// buffer pool, B+Tree catalog, and hierarchical lock manager together:
// init/put/get/scan subcommands against a single named index, each
// printing its own result. Grounded on the corpus's use of
// alecthomas/kong for subcommand CLIs.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/thetarby/crabdb/bptree"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/config"
	"github.com/thetarby/crabdb/lockmanager"
	"github.com/thetarby/crabdb/metrics"
	"github.com/thetarby/crabdb/storage/buffer"
	"github.com/thetarby/crabdb/storage/disk"
	"github.com/thetarby/crabdb/txn"
)

var cli struct {
	Config string `help:"Path to a TOML config file." default:""`

	Init struct {
		Index string `arg:"" help:"Name of the index to create in a fresh data file."`
	} `cmd:"" help:"Create a new data file with an empty index."`

	Put struct {
		Index string `arg:"" help:"Index to insert into."`
		Key   int64  `arg:"" help:"Integer key."`
		Page  int64  `arg:"" help:"RID page id to store as the value."`
	} `cmd:"" help:"Insert a key/value pair under a lock-managed transaction."`

	Get struct {
		Index string `arg:"" help:"Index to look up."`
		Key   int64  `arg:"" help:"Integer key."`
	} `cmd:"" help:"Look up a key."`

	Scan struct {
		Index string `arg:"" help:"Index to scan."`
	} `cmd:"" help:"Print every key/value pair in order."`
}

func main() {
	common.InitLogging(false)
	ctx := kong.Parse(&cli)

	cfg := config.Default()
	if cli.Config != "" {
		var err error
		cfg, err = config.Load(cli.Config)
		ctx.FatalIfErrorf(err)
	}
	common.InitLogging(cfg.Verbose)

	switch ctx.Command() {
	case "init <index>":
		ctx.FatalIfErrorf(runInit(cfg, cli.Init.Index))
	case "put <index> <key> <page>":
		ctx.FatalIfErrorf(runPut(cfg, cli.Put.Index, cli.Put.Key, cli.Put.Page))
	case "get <index> <key>":
		ctx.FatalIfErrorf(runGet(cfg, cli.Get.Index, cli.Get.Key))
	case "scan <index>":
		ctx.FatalIfErrorf(runScan(cfg, cli.Scan.Index))
	default:
		ctx.Fatalf("unknown command %q", ctx.Command())
	}
}

func openEngine(cfg config.Config, fresh bool) (*buffer.BufferPoolManager, *bptree.Catalog, func() error, error) {
	d, err := disk.NewFileManager(cfg.DataFile)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "opening data file")
	}

	reg := metrics.NewRegistry()
	pool := buffer.New(cfg.PoolSize, d, cfg.ReplacerK, reg.BufferPool)
	catalog, err := bptree.OpenCatalog(pool, fresh)
	if err != nil {
		d.Close()
		return nil, nil, nil, err
	}

	closeFn := func() error {
		if err := pool.FlushAllPages(); err != nil {
			return err
		}
		return d.Close()
	}
	return pool, catalog, closeFn, nil
}

func runInit(cfg config.Config, index string) error {
	pool, catalog, closeFn, err := openEngine(cfg, true)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := bptree.Open(pool, catalog, index); err != nil {
		return err
	}
	fmt.Printf("created index %q in %s\n", index, cfg.DataFile)
	return nil
}

// withTransaction runs fn under a lock manager and a fresh transaction,
// demonstrating the intentional-lock coupling spec.md §4.4 requires
// between the B+Tree's row-level work and the table-level lock a caller
// must hold first.
func withTransaction(cfg config.Config, index string, mode txn.LockMode, fn func(tree *bptree.BPlusTree, tx *txn.Transaction) error) error {
	pool, catalog, closeFn, err := openEngine(cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	tree, err := bptree.Open(pool, catalog, index)
	if err != nil {
		return err
	}

	txns := txn.NewManager()
	reg := metrics.NewRegistry()
	lm := lockmanager.New(txns, reg.LockMgr)
	defer lm.Close()

	tx := txns.Begin(txn.RepeatableRead)
	oid := txn.OID(indexOID(index))
	if err := lm.LockTable(tx, mode, oid); err != nil {
		return err
	}

	if err := fn(tree, tx); err != nil {
		return err
	}
	return lm.UnlockTable(tx, oid)
}

// indexOID derives a stable table-level lock id from an index name so
// the demo doesn't need a real catalog of table oids.
func indexOID(name string) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(name) {
		h ^= int64(b)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}

func runPut(cfg config.Config, index string, key, pageID int64) error {
	return withTransaction(cfg, index, txn.LockIntentionExclusive, func(tree *bptree.BPlusTree, tx *txn.Transaction) error {
		if err := tree.Insert(tx, common.IntKey(key), common.RID{PageID: pageID}); err != nil {
			return err
		}
		fmt.Printf("put %d -> page %d\n", key, pageID)
		return nil
	})
}

func runGet(cfg config.Config, index string, key int64) error {
	return withTransaction(cfg, index, txn.LockIntentionShared, func(tree *bptree.BPlusTree, _ *txn.Transaction) error {
		rid, ok, err := tree.GetValue(common.IntKey(key))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%d: not found\n", key)
			return nil
		}
		fmt.Printf("%d -> %s\n", key, rid)
		return nil
	})
}

func runScan(cfg config.Config, index string) error {
	return withTransaction(cfg, index, txn.LockIntentionShared, func(tree *bptree.BPlusTree, _ *txn.Transaction) error {
		it, err := tree.Begin()
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Valid() {
			fmt.Printf("%d -> %s\n", it.Key(), it.Value())
			if err := it.Next(); err != nil {
				return err
			}
		}
		return nil
	})
}
