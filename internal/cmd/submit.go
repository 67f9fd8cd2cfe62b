package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/task"
)

// shutdownTimeout bounds how long commands wait for pipelines at exit.
const shutdownTimeout = 5 * time.Second

// submission is one file to submit.
type submission struct {
	path       string
	providerID string
	kind       provider.Kind
	opts       provider.Options
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// runSubmissions submits every file, prints each task as it starts and
// finishes, and waits for all of them. Interrupting cancels the tasks that
// have not finished. It fails when any task did not complete.
func (a *app) runSubmissions(ctx context.Context, subs []submission) error {
	blobs := make([]provider.Blob, len(subs))
	for i, s := range subs {
		blob, err := provider.NewFileBlob(s.path)
		if err != nil {
			return err
		}
		blobs[i] = blob
	}

	var (
		mu   sync.Mutex
		mine = make(map[string]bool)
	)
	sub := a.orch.On(event.TypeAll, func(e event.Event) {
		te, ok := e.(task.TaskEvent)
		// task.added is published from Submit while mu is held.
		if !ok || te.EventType() == event.TypeTaskAdded {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if mine[te.Task.ID] {
			a.render.printf("%s\n", a.render.taskLine(te.Task))
		}
	})
	defer a.orch.Off(sub)

	ids := make([]string, 0, len(subs))
	mu.Lock()
	for i, s := range subs {
		id, err := a.orch.Submit(ctx, blobs[i], s.providerID, s.kind, s.opts)
		if err != nil {
			mu.Unlock()
			return err
		}
		mine[id] = true
		ids = append(ids, id)
	}
	mu.Unlock()

	for _, id := range ids {
		if _, err := a.orch.WaitTask(ctx, id); err != nil {
			if ctx.Err() != nil {
				for _, id := range ids {
					a.orch.CancelTask(id)
				}
				break
			}
			return err
		}
	}

	var counts task.Counts
	for _, id := range ids {
		t, ok := a.orch.GetTask(id)
		if !ok {
			continue
		}
		counts.Total++
		switch t.Status {
		case task.StatusCompleted:
			counts.Completed++
		case task.StatusError:
			counts.Error++
		case task.StatusCancelled:
			counts.Cancelled++
		}
	}
	a.render.printf("%s\n", a.render.summary(counts))

	if failed := counts.Total - counts.Completed; failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, counts.Total)
	}
	return nil
}
