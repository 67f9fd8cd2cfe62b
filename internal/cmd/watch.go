package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/task"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload files as they appear in a directory",
	Long: `Watch a directory and upload every file created in it. A file is
submitted once it has stopped changing for the settle delay, so files that
are still being written are not uploaded half-way.

When metrics.listen is set, Prometheus metrics are served on /metrics for
as long as the watch runs.

Press Ctrl+C to stop; pending uploads are cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchProvider string
	watchFolder   string
	watchSettle   time.Duration
	watchHidden   bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchProvider, "provider", "p", "", "Provider id (default: routed by file name)")
	watchCmd.Flags().StringVar(&watchFolder, "folder", "", "Destination folder")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "How long a file must be unchanged before upload")
	watchCmd.Flags().BoolVar(&watchHidden, "hidden", false, "Also upload dotfiles")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	if addr := a.cfg.Metrics.Listen; addr != "" {
		srv := serveMetrics(addr, a)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.render.printf("Serving metrics on http://%s/metrics\n", addr)
	}

	sub := a.orch.On(event.TypeAll, func(e event.Event) {
		if te, ok := e.(task.TaskEvent); ok && te.EventType() != event.TypeTaskAdded {
			a.render.printf("%s\n", a.render.taskLine(te.Task))
		}
	})
	defer a.orch.Off(sub)

	w := &dirWatcher{
		settle: watchSettle,
		hidden: watchHidden,
		submit: func(path string) {
			if err := a.submitWatched(ctx, path); err != nil {
				a.render.printf("%s: %v\n", filepath.Base(path), err)
			}
		},
	}
	a.render.printf("Watching %s\n", dir)
	if err := w.run(ctx, dir); err != nil {
		return err
	}

	a.render.printf("%s\n", a.render.summary(a.orch.Counts()))
	return nil
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}

func (a *app) submitWatched(ctx context.Context, path string) error {
	providerID, err := a.resolveProvider(watchProvider, filepath.Base(path))
	if err != nil {
		return err
	}
	blob, err := provider.NewFileBlob(path)
	if err != nil {
		return err
	}
	_, err = a.orch.Submit(ctx, blob, providerID, provider.KindUpload, provider.UploadOptions{Folder: watchFolder})
	return err
}

// dirWatcher calls submit for each file created in a directory once the
// file has been quiet for settle.
type dirWatcher struct {
	settle time.Duration
	hidden bool
	submit func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   map[string]bool // paths already submitted
	wg     sync.WaitGroup
}

func (w *dirWatcher) run(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.timers = make(map[string]*time.Timer)
	w.done = make(map[string]bool)

	defer func() {
		w.mu.Lock()
		for path, t := range w.timers {
			if t.Stop() {
				w.wg.Done()
			}
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}

// touch (re)arms the settle timer for path.
func (w *dirWatcher) touch(path string) {
	if !w.hidden && strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done[path] {
		return
	}
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		if w.done[path] || !fileExists(path) {
			w.mu.Unlock()
			return
		}
		w.done[path] = true
		w.mu.Unlock()

		w.submit(path)
	})
	w.timers[path] = t
}
