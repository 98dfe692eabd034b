package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pders01/newsync/internal/config"
	"github.com/pders01/newsync/internal/debuglog"
	"github.com/pders01/newsync/internal/metrics"
	"github.com/pders01/newsync/internal/newsync"
	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/search"
	"github.com/pders01/newsync/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the cache in sync until interrupted",
	Long:  "run fetches immediately, then on every sync interval. SIGHUP requests an immediate refresh; SIGINT or SIGTERM stops.",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run a single refresh attempt",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show cached news, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached news",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSync(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		reg  *prometheus.Registry
		rec  *metrics.Recorder
		opts []newsync.BuildOption
	)
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		rec = metrics.NewRecorder()
		if err := rec.Register(reg); err != nil {
			return err
		}
		opts = append(opts, newsync.WithOnFinish(rec.ObserveStatus))
	}

	svc, err := newsync.FromConfig(cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ix *search.Index
	if cfg.Search.Enabled {
		ix, err = search.OpenIndex(cfg.Search.Index)
		if err != nil {
			return err
		}
		defer ix.Close()
	}

	// Background watchers end before the index and the service are closed.
	bgCtx, cancelBg := context.WithCancel(ctx)
	g, bgCtx := errgroup.WithContext(bgCtx)
	defer func() {
		cancelBg()
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
	}()

	if ix != nil {
		g.Go(func() error {
			ix.Watch(bgCtx, svc.ObserveCollection(bgCtx))
			return nil
		})
	}
	if rec != nil {
		g.Go(func() error {
			rec.Watch(bgCtx, svc.ObserveCollection(bgCtx))
			return nil
		})
		g.Go(func() error {
			return metrics.Serve(bgCtx, cfg.Metrics.Addr, metrics.Handler(reg))
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	out := cmd.OutOrStdout()
	if n, err := svc.Store().Count(); err == nil {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d cached records", n)))
	}

	statuses := svc.ObserveStatus(bgCtx)
	if err := svc.Start(bgCtx); err != nil {
		return err
	}
	debuglog.Infof("newsync %s running against %s", Version, cfg.Source.URL)

	for {
		select {
		case <-bgCtx.Done():
			svc.Stop()
			fmt.Fprintln(out, dimStyle.Render("stopped"))
			return nil
		case <-hup:
			svc.TriggerRefreshNow()
		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			printStatus(out, st, flagQuiet)
			if st.Failed() && svc.SourceState() == "open" {
				fmt.Fprintln(out, errorStyle.Render("source circuit open, fetches fail fast until the breaker timeout"))
			}
		}
	}
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := newsync.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.RefreshOnce(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st, false)
	if st.Failed() {
		return fmt.Errorf("refresh failed: %s", st.LastError)
	}

	if cfg.Search.Enabled {
		if err := reindex(cfg, svc.Store()); err != nil {
			return err
		}
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Database.Path, storage.Options{Timeout: cfg.Database.Timeout})
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.All()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no cached news; run `newsync refresh` first"))
		return nil
	}
	if flagListLimit > 0 && len(records) > flagListLimit {
		records = records[:flagListLimit]
	}
	for _, r := range records {
		printRecord(out, r)
	}

	if last, err := store.LastWrite(); err == nil && !last.IsZero() {
		fmt.Fprintln(out, dimStyle.Render("last synced "+last.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Database.Path, storage.Options{Timeout: cfg.Database.Timeout})
	if err != nil {
		return err
	}
	defer store.Close()

	var searcher search.Searcher = search.NewScanner(store)
	if cfg.Search.Enabled {
		ix, err := search.OpenIndex(cfg.Search.Index)
		if err != nil {
			return err
		}
		defer ix.Close()

		records, err := store.All()
		if err != nil {
			return err
		}
		if err := ix.Sync(records); err != nil {
			return err
		}
		searcher = ix
	}

	if ds, ok := searcher.(search.DebugStatser); ok {
		if n, err := ds.DocCount(); err == nil {
			debuglog.Debugf("searching %d indexed records", n)
		}
	}

	query := strings.Join(args, " ")
	results, err := searcher.Search(query, flagSearchLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("no results for %q", query)))
		return nil
	}
	for _, res := range results {
		printRecord(out, res.Record)
	}
	return nil
}

// reindex brings the on-disk index in line with the store.
func reindex(cfg *config.Config, store *storage.Store) error {
	ix, err := search.OpenIndex(cfg.Search.Index)
	if err != nil {
		return err
	}
	defer ix.Close()

	records, err := store.All()
	if err != nil {
		return err
	}
	return ix.Sync(records)
}

func printStatus(w io.Writer, st refresh.Status, quiet bool) {
	if st.Attempt == 0 {
		return
	}
	if quiet && !st.Failed() {
		return
	}
	fmt.Fprintln(w, renderStatus(st))
}

func printRecord(w io.Writer, r storage.NewsRecord) {
	fmt.Fprintln(w, renderRecord(r))
}

// contextOrBackground guards commands invoked directly in tests.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
