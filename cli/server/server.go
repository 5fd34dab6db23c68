package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neohex/chit/cli/options"
	"github.com/neohex/chit/pkg/config"
	"github.com/neohex/chit/pkg/core/state"
	"github.com/neohex/chit/pkg/core/storage"
	"github.com/neohex/chit/pkg/services/metrics"
	"github.com/neohex/chit/pkg/util"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

const restoreDescription = `Entries are committed in batches of --batch entries, every batch
   produces a new root. If restore fails midway the batches committed so far
   stay in the ledger. Restoring into a non-empty ledger merges the dump into
   its state and is only allowed with --force.`

// NewCommands returns 'node' and 'db' commands.
func NewCommands() []cli.Command {
	keyFlags := append([]cli.Flag{options.Hex}, options.Common...)
	getFlags := append([]cli.Flag{cli.StringFlag{
		Name:  "root, r",
		Usage: "hex-encoded root to query instead of the current one",
	}}, keyFlags...)
	dumpFlags := append([]cli.Flag{cli.StringFlag{
		Name:  "out, o",
		Usage: "output file (stdout if not given)",
	}}, options.Common...)
	restoreFlags := append([]cli.Flag{cli.StringFlag{
		Name:  "in, i",
		Usage: "input file (stdin if not given)",
	}, cli.UintFlag{
		Name:  "batch, b",
		Value: defaultRestoreBatch,
		Usage: "number of entries committed at once",
	}, cli.BoolFlag{
		Name:  "force",
		Usage: "restore into a non-empty ledger",
	}}, options.Common...)
	return []cli.Command{
		{
			Name:   "node",
			Usage:  "start chit node",
			Action: startServer,
			Flags:  options.Common,
		},
		{
			Name:  "db",
			Usage: "database manipulations",
			Subcommands: []cli.Command{
				{
					Name:      "put",
					Usage:     "store the value under the key",
					UsageText: "chit db put [--hex] [--config-file file] <key> <value>",
					Action:    putKey,
					Flags:     keyFlags,
				},
				{
					Name:      "get",
					Usage:     "print the value stored under the key",
					UsageText: "chit db get [--hex] [--root hash] [--config-file file] <key>",
					Action:    getKey,
					Flags:     getFlags,
				},
				{
					Name:      "delete",
					Usage:     "remove the key",
					UsageText: "chit db delete [--hex] [--config-file file] <key>",
					Action:    deleteKey,
					Flags:     keyFlags,
				},
				{
					Name:   "root",
					Usage:  "print the current root and the kept history",
					Action: printRoot,
					Flags:  options.Common,
				},
				{
					Name:   "keys",
					Usage:  "print all keys and values",
					Action: listKeys,
					Flags:  keyFlags,
				},
				{
					Name:   "gc",
					Usage:  "collect garbage",
					Action: collectGarbage,
					Flags:  options.Common,
				},
				{
					Name:      "dump",
					Usage:     "dump the current state",
					UsageText: "chit db dump [--out file] [--config-file file]",
					Action:    dumpDB,
					Flags:     dumpFlags,
				},
				{
					Name:        "restore",
					Usage:       "restore the state from the dump",
					UsageText:   "chit db restore [--in file] [--batch n] [--force] [--config-file file]",
					Description: restoreDescription,
					Action:      restoreDB,
					Flags:       restoreFlags,
				},
			},
		},
	}
}

// newLedger loads the configuration, sets up logging and opens the ledger.
// The returned closer must be called when the ledger is no longer needed.
func newLedger(ctx *cli.Context) (config.Config, *state.Ledger, *zap.Logger, func(), error) {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cfg, nil, nil, nil, cli.NewExitError(err, 1)
	}
	log, _, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return cfg, nil, nil, nil, cli.NewExitError(err, 1)
	}
	store, err := storage.NewStore(cfg.ApplicationConfiguration.DBConfiguration)
	if err != nil {
		_ = log.Sync()
		return cfg, nil, nil, nil, cli.NewExitError(fmt.Errorf("could not initialize storage: %w", err), 1)
	}
	ledger, err := state.NewLedger(store, cfg.ApplicationConfiguration.Ledger, log)
	if err != nil {
		_ = store.Close()
		_ = log.Sync()
		return cfg, nil, nil, nil, cli.NewExitError(fmt.Errorf("could not initialize ledger: %w", err), 1)
	}
	closer := func() {
		if err := ledger.Close(); err != nil {
			log.Error("failed to close ledger", zap.Error(err))
		}
		_ = log.Sync()
	}
	return cfg, ledger, log, closer, nil
}

// parseArg decodes a key or value argument.
func parseArg(ctx *cli.Context, arg string) ([]byte, error) {
	if ctx.Bool("hex") {
		b, err := hex.DecodeString(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", arg, err)
		}
		return b, nil
	}
	return []byte(arg), nil
}

// formatArg is the reverse of parseArg.
func formatArg(ctx *cli.Context, b []byte) string {
	if ctx.Bool("hex") {
		return hex.EncodeToString(b)
	}
	return string(b)
}

func parseArgs(ctx *cli.Context, n int) ([][]byte, error) {
	args := ctx.Args()
	if len(args) != n {
		return nil, cli.NewExitError(fmt.Errorf("expected %d arguments, got %d", n, len(args)), 1)
	}
	res := make([][]byte, n)
	for i := range args {
		b, err := parseArg(ctx, args[i])
		if err != nil {
			return nil, cli.NewExitError(err, 1)
		}
		res[i] = b
	}
	return res, nil
}

func putKey(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 2)
	if err != nil {
		return err
	}
	return applyChange(ctx, state.Change{Key: args[0], Value: args[1]})
}

func deleteKey(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return err
	}
	return applyChange(ctx, state.Change{Key: args[0]})
}

func applyChange(ctx *cli.Context, c state.Change) error {
	_, ledger, _, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()
	root, err := ledger.Apply([]state.Change{c})
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, root.StringBE())
	return nil
}

func getKey(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return err
	}
	_, ledger, _, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var v []byte
	if r := ctx.String("root"); r != "" {
		root, err := util.Uint256DecodeStringBE(r)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("invalid root: %w", err), 1)
		}
		view, err := ledger.View(root)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		v, err = view.Get(args[0])
		if err != nil {
			return cli.NewExitError(err, 1)
		}
	} else if v, err = ledger.Get(args[0]); err != nil {
		return cli.NewExitError(err, 1)
	}
	if v == nil {
		return cli.NewExitError(errors.New("key not found"), 1)
	}
	fmt.Fprintln(ctx.App.Writer, formatArg(ctx, v))
	return nil
}

func printRoot(ctx *cli.Context) error {
	_, ledger, _, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()
	n, err := ledger.Len()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "Root: %s\nEntries: %d\n", ledger.Root().StringBE(), n)
	for _, r := range ledger.Roots() {
		fmt.Fprintf(ctx.App.Writer, "Kept: %s\n", r.StringBE())
	}
	return nil
}

func listKeys(ctx *cli.Context) error {
	_, ledger, _, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()
	err = ledger.Iterate(func(k, v []byte) bool {
		fmt.Fprintf(ctx.App.Writer, "%s: %s\n", formatArg(ctx, k), formatArg(ctx, v))
		return true
	})
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}

func collectGarbage(ctx *cli.Context) error {
	_, ledger, _, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()
	removed, err := ledger.CollectGarbage()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "Removed nodes: %d\n", removed)
	return nil
}

func startServer(ctx *cli.Context) error {
	cfg, ledger, log, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()

	grace, cancel := context.WithCancel(newGraceContext())
	defer cancel()

	prometheus := metrics.NewPrometheusService(cfg.ApplicationConfiguration.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.ApplicationConfiguration.Pprof, log)
	for _, srv := range []*metrics.Service{prometheus, pprof} {
		if err := srv.Start(); err != nil {
			return cli.NewExitError(fmt.Errorf("failed to start service: %w", err), 1)
		}
		defer srv.ShutDown()
	}

	done := make(chan struct{})
	go func() {
		ledger.Run(grace)
		close(done)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, sighup)
	defer signal.Stop(hup)

	log.Info("node started", zap.Stringer("root", ledger.Root()))
Main:
	for {
		select {
		case <-hup:
			log.Info("SIGHUP received, collecting garbage")
			if _, err := ledger.CollectGarbage(); err != nil {
				log.Error("garbage collection failed", zap.Error(err))
			}
		case <-grace.Done():
			break Main
		}
	}
	<-done
	log.Info("shutting down node")
	return nil
}

// newGraceContext returns a context cancelled on SIGINT or SIGTERM.
func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}
