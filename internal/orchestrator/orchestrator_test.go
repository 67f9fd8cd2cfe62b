package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/metrics"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/provider/localfs"
	"github.com/Iron-Ham/uplink/internal/task"
	"github.com/Iron-Ham/uplink/internal/testutil"
)

const waitTimeout = 2 * time.Second

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

// eventRecorder collects every event published by an orchestrator.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(o *Orchestrator) *eventRecorder {
	r := &eventRecorder{}
	o.On(event.TypeAll, func(e event.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

// types returns the event types seen for taskID, or every type when taskID
// is empty.
func (r *eventRecorder) types(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if te, ok := e.(task.TaskEvent); ok && taskID != "" && te.Task.ID != taskID {
			continue
		}
		out = append(out, e.EventType())
	}
	return out
}

func (r *eventRecorder) count(eventType string) int {
	n := 0
	for _, typ := range r.types("") {
		if typ == eventType {
			n++
		}
	}
	return n
}

func blob(name string) provider.Blob {
	return provider.NewBytesBlob(name, "image/png", []byte("png-bytes"))
}

func submit(t *testing.T, o *Orchestrator, name, providerID string) string {
	t.Helper()
	id, err := o.Submit(context.Background(), blob(name), providerID, provider.KindUpload, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func waitTask(t *testing.T, o *Orchestrator, id string) task.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	got, err := o.WaitTask(ctx, id)
	if err != nil {
		t.Fatalf("WaitTask(%s): %v", id, err)
	}
	return got
}

func equalTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSubmit_CompletesUpload(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	adapter := &testutil.MockAdapter{
		PerformFunc: testutil.DelayedResult(10*time.Millisecond, provider.RemoteResult{URL: "https://x/a.png"}),
	}
	o.RegisterProvider("mock", adapter)
	rec := record(o)

	id := submit(t, o, "a.png", "mock")
	got := waitTask(t, o, id)

	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", got.Status, got.Error)
	}
	if got.Result == nil || got.Result.URL != "https://x/a.png" {
		t.Errorf("result = %+v, want URL https://x/a.png", got.Result)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	want := []string{event.TypeTaskAdded, event.TypeTaskStarted, event.TypeTaskCompleted}
	if types := rec.types(id); !equalTypes(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestSubmit_TaskVisibleImmediately(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	release := make(chan struct{})
	defer close(release)
	o.RegisterProvider("mock", &testutil.MockAdapter{
		AuthenticateFunc: func(context.Context, auth.Session) (bool, error) {
			<-release
			return true, nil
		},
	})

	id := submit(t, o, "a.png", "mock")

	tasks := o.GetTasks()
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Fatalf("GetTasks() = %+v, want the submitted task", tasks)
	}
	if tasks[0].Status != task.StatusPending {
		t.Errorf("status = %s, want pending", tasks[0].Status)
	}
	if tasks[0].ProviderID != "mock" || tasks[0].Kind != provider.KindUpload {
		t.Errorf("task = %+v, want provider mock and kind upload", tasks[0])
	}
}

func TestSubmit_Validation(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	tests := []struct {
		name       string
		payload    provider.Blob
		providerID string
		kind       provider.Kind
		opts       provider.Options
		field      string
	}{
		{name: "nil payload", providerID: "mock", kind: provider.KindUpload, field: "payload"},
		{name: "empty provider", payload: blob("a.png"), kind: provider.KindUpload, field: "provider_id"},
		{name: "unknown kind", payload: blob("a.png"), providerID: "mock", kind: "print", field: "kind"},
		{
			name:       "options for another kind",
			payload:    blob("a.png"),
			providerID: "mock",
			kind:       provider.KindUpload,
			opts:       provider.ShareOptions{Title: "t"},
			field:      "options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := o.Submit(context.Background(), tt.payload, tt.providerID, tt.kind, tt.opts)
			if err == nil {
				t.Fatalf("Submit() = %q, want error", id)
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	if n := len(o.GetTasks()); n != 0 {
		t.Errorf("invalid submissions created %d tasks", n)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	if err := o.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := o.Submit(context.Background(), blob("a.png"), "mock", provider.KindUpload, nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Submit after Close error = %v, want validation error", err)
	}
}

func TestSubmit_AuthenticateRejected(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	adapter := &testutil.MockAdapter{
		AuthenticateFunc: func(context.Context, auth.Session) (bool, error) { return false, nil },
	}
	o.RegisterProvider("mock", adapter)
	rec := record(o)

	id := submit(t, o, "a.png", "mock")
	got := waitTask(t, o, id)

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.Error, "Authentication failed") {
		t.Errorf("error = %q, want it to contain %q", got.Error, "Authentication failed")
	}
	if got.ErrorKind != errors.KindAuthentication {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, errors.KindAuthentication)
	}
	want := []string{event.TypeTaskAdded, event.TypeTaskError}
	if types := rec.types(id); !equalTypes(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
	if n := len(adapter.PerformCalls()); n != 0 {
		t.Errorf("Perform called %d times after rejected authentication", n)
	}
}

func TestSubmit_UnregisteredProvider(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	id := submit(t, o, "a.png", "missing")
	got := waitTask(t, o, id)

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorKind != errors.KindConfiguration {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, errors.KindConfiguration)
	}
	if !strings.Contains(got.Error, "missing") {
		t.Errorf("error = %q, want the provider id", got.Error)
	}
}

func TestSubmit_PerformErrorKeepsAdapterMessage(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			return provider.RemoteResult{}, errors.New("quota exceeded")
		},
	})

	got := waitTask(t, o, submit(t, o, "a.png", "mock"))

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Error != "quota exceeded" {
		t.Errorf("error = %q, want the adapter's message", got.Error)
	}
	if got.ErrorKind != errors.KindTransport {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, errors.KindTransport)
	}
	if got.StartedAt == nil {
		t.Error("a failed perform should leave StartedAt set")
	}
}

func TestSubmit_PerformPanicRecorded(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			panic("nil map write")
		},
	})

	got := waitTask(t, o, submit(t, o, "a.png", "mock"))

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.Error, "adapter panicked") || !strings.Contains(got.Error, "nil map write") {
		t.Errorf("error = %q, want the recovered panic", got.Error)
	}
}

func TestCancelTask_Pending(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	release := make(chan struct{})
	adapter := &testutil.MockAdapter{
		AuthenticateFunc: func(context.Context, auth.Session) (bool, error) {
			<-release
			return true, nil
		},
	}
	o.RegisterProvider("mock", adapter)
	rec := record(o)

	id := submit(t, o, "a.png", "mock")
	if !o.CancelTask(id) {
		t.Fatal("CancelTask on a pending task should succeed")
	}

	got, _ := o.GetTask(id)
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %s, want cancelled immediately", got.Status)
	}
	if rec.count(event.TypeTaskCancelled) != 1 {
		t.Errorf("task.cancelled fired %d times, want 1", rec.count(event.TypeTaskCancelled))
	}

	close(release)
	o.Wait()

	got, _ = o.GetTask(id)
	if got.Status != task.StatusCancelled {
		t.Errorf("status after pipeline finished = %s, want cancelled", got.Status)
	}
	if n := len(adapter.PerformCalls()); n != 0 {
		t.Errorf("Perform called %d times for a cancelled task", n)
	}
	want := []string{event.TypeTaskAdded, event.TypeTaskCancelled}
	if types := rec.types(id); !equalTypes(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestCancelTask_UploadingDiscardsResult(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			close(started)
			<-release
			return provider.RemoteResult{URL: "https://x/late.png"}, nil
		},
	})
	rec := record(o)

	id := submit(t, o, "a.png", "mock")
	<-started
	if !o.CancelTask(id) {
		t.Fatal("CancelTask on an uploading task should succeed")
	}
	close(release)
	o.Wait()

	got, _ := o.GetTask(id)
	if got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.Result != nil {
		t.Errorf("result = %+v, want the late result discarded", got.Result)
	}
	if rec.count(event.TypeTaskCompleted) != 0 {
		t.Error("task.completed must not fire for a cancelled task")
	}
}

func TestCancelTask_Terminal(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("ok", &testutil.MockAdapter{})
	o.RegisterProvider("bad", &testutil.MockAdapter{
		AuthenticateFunc: func(context.Context, auth.Session) (bool, error) { return false, nil },
	})

	completed := waitTask(t, o, submit(t, o, "a.png", "ok"))
	failed := waitTask(t, o, submit(t, o, "b.png", "bad"))
	cancelled := submit(t, o, "c.png", "missing")
	o.CancelTask(cancelled)
	o.Wait()

	rec := record(o)
	for _, id := range []string{completed.ID, failed.ID, cancelled, "task_unknown"} {
		if o.CancelTask(id) {
			t.Errorf("CancelTask(%s) = true, want false", id)
		}
	}
	if n := len(rec.types("")); n != 0 {
		t.Errorf("cancelling finished tasks emitted %d events", n)
	}
}

func TestCancelTask_AbortOnCancel(t *testing.T) {
	o := newTestOrchestrator(t, Config{AbortOnCancel: true})
	started := make(chan struct{})
	aborted := make(chan error, 1)
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(ctx context.Context, _ provider.Blob, _ provider.Options) (provider.RemoteResult, error) {
			close(started)
			<-ctx.Done()
			aborted <- ctx.Err()
			return provider.RemoteResult{}, ctx.Err()
		},
	})

	id := submit(t, o, "a.png", "mock")
	<-started
	o.CancelTask(id)

	select {
	case err := <-aborted:
		if err != context.Canceled {
			t.Errorf("perform context error = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("perform context was not cancelled")
	}
	o.Wait()

	if got, _ := o.GetTask(id); got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestClearTasks(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("mock", &testutil.MockAdapter{})

	waitTask(t, o, submit(t, o, "a.png", "mock"))
	waitTask(t, o, submit(t, o, "b.png", "mock"))
	rec := record(o)

	o.ClearTasks()

	if n := len(o.GetTasks()); n != 0 {
		t.Errorf("GetTasks() has %d tasks after ClearTasks", n)
	}
	if got := rec.types(""); !equalTypes(got, []string{event.TypeTasksCleared}) {
		t.Errorf("events = %v, want a single tasks.cleared", got)
	}
}

func TestClearTasks_WhileUploadingSettlesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(t, Config{}, WithMetrics(metrics.MustNew(reg)))
	started := make(chan struct{})
	release := make(chan struct{})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			close(started)
			<-release
			return provider.RemoteResult{URL: "https://x/a.png"}, nil
		},
	})

	submit(t, o, "a.png", "mock")
	<-started
	o.ClearTasks()
	close(release)
	o.Wait()

	if got := gaugeValue(t, reg, "uplink_tasks_uploading"); got != 0 {
		t.Errorf("uplink_tasks_uploading = %v after clear, want 0", got)
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestSubmit_SharedAdapterErrorUntouched(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	shared := errors.NewTransportError("quota exceeded", nil)
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			return provider.RemoteResult{}, shared
		},
	})

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, submit(t, o, fmt.Sprintf("%d.png", i), "mock"))
	}
	for _, id := range ids {
		got := waitTask(t, o, id)
		if got.Status != task.StatusError {
			t.Fatalf("status = %s, want error", got.Status)
		}
		if got.Error != "quota exceeded" {
			t.Errorf("error = %q, want the adapter's message", got.Error)
		}
	}
	if shared.TaskID != "" || shared.ProviderID != "" {
		t.Errorf("adapter error was modified: task=%q provider=%q", shared.TaskID, shared.ProviderID)
	}
}

func TestCancelTask_LogsCancellation(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	o := newTestOrchestrator(t, Config{}, WithLogger(logger))
	started := make(chan struct{})
	release := make(chan struct{})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			close(started)
			<-release
			return provider.RemoteResult{}, errors.New("connection reset")
		},
	})

	id := submit(t, o, "a.png", "mock")
	<-started
	o.CancelTask(id)
	close(release)
	o.Wait()

	out := buf.String()
	if !strings.Contains(out, "discarding failure of a task that is no longer uploading") {
		t.Fatalf("log has no discard entry:\n%s", out)
	}
	if n := strings.Count(out, `"reason_kind":"cancellation"`); n != 2 {
		t.Errorf("cancellation reasons logged %d times, want 2 (cancel and discard):\n%s", n, out)
	}
}

func TestSubmit_SingleHandshakeForConcurrentSubmits(t *testing.T) {
	surface := &testutil.Surface{Delay: 30 * time.Millisecond}
	o := newTestOrchestrator(t, Config{Auth: auth.Options{Surface: surface, PollInterval: 5 * time.Millisecond}})
	adapter := &testutil.MockAdapter{}
	o.RegisterProvider("drive", adapter)
	if err := o.RegisterFlow("drive", testutil.ImplicitFlow()); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	first := submit(t, o, "a.png", "drive")
	second := submit(t, o, "b.png", "drive")

	for _, id := range []string{first, second} {
		if got := waitTask(t, o, id); got.Status != task.StatusCompleted {
			t.Errorf("task %s status = %s, want completed (error: %s)", id, got.Status, got.Error)
		}
	}
	if n := surface.Opens(); n != 1 {
		t.Errorf("surface opened %d times, want 1", n)
	}
	for _, s := range adapter.Sessions() {
		if s.AccessToken != "test-token" {
			t.Errorf("adapter got session %v, want the handshake's token", s)
		}
	}
}

func TestSubmit_HandshakeDismissed(t *testing.T) {
	surface := &testutil.Surface{Dismiss: true}
	o := newTestOrchestrator(t, Config{Auth: auth.Options{Surface: surface, PollInterval: 5 * time.Millisecond}})
	o.RegisterProvider("drive", &testutil.MockAdapter{})
	if err := o.RegisterFlow("drive", testutil.ImplicitFlow()); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	got := waitTask(t, o, submit(t, o, "a.png", "drive"))

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.Error, "Authentication failed") || !strings.Contains(got.Error, "cancelled") {
		t.Errorf("error = %q, want a cancelled authentication", got.Error)
	}
}

func TestSubmit_ProvidersAreIndependent(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	release := make(chan struct{})
	o.RegisterProvider("slow", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			<-release
			return provider.RemoteResult{URL: "https://slow/a"}, nil
		},
	})
	o.RegisterProvider("fast", &testutil.MockAdapter{})

	slow := submit(t, o, "a.png", "slow")
	fast := submit(t, o, "b.png", "fast")

	if got := waitTask(t, o, fast); got.Status != task.StatusCompleted {
		t.Fatalf("fast task status = %s, want completed", got.Status)
	}
	if got, _ := o.GetTask(slow); got.Status.IsTerminal() {
		t.Errorf("slow task status = %s, want it still running", got.Status)
	}

	close(release)
	if got := waitTask(t, o, slow); got.Status != task.StatusCompleted {
		t.Errorf("slow task status = %s, want completed", got.Status)
	}
}

func TestSubmit_MaxConcurrent(t *testing.T) {
	o := newTestOrchestrator(t, Config{MaxConcurrent: 1})
	var current, peak atomic.Int32
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
			n := current.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return provider.RemoteResult{URL: "https://x"}, nil
		},
	})

	for i := 0; i < 4; i++ {
		submit(t, o, string(rune('a'+i))+".png", "mock")
	}
	o.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent performs = %d, want 1", got)
	}
	if c := o.Counts(); c.Completed != 4 {
		t.Errorf("completed = %d, want 4", c.Completed)
	}
}

func TestSubmit_PerformTimeout(t *testing.T) {
	o := newTestOrchestrator(t, Config{PerformTimeout: 20 * time.Millisecond})
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: testutil.DelayedResult(time.Minute, provider.RemoteResult{URL: "https://x"}),
	})

	got := waitTask(t, o, submit(t, o, "a.png", "mock"))

	if got.Status != task.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.Error, "deadline exceeded") {
		t.Errorf("error = %q, want a deadline error", got.Error)
	}
}

func TestOff(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("mock", &testutil.MockAdapter{})

	var calls atomic.Int32
	id := o.On(event.TypeTaskAdded, func(event.Event) { calls.Add(1) })
	if !o.Off(id) {
		t.Fatal("Off should report an existing subscription")
	}
	if o.Off(id) {
		t.Error("Off should report false for a removed subscription")
	}

	waitTask(t, o, submit(t, o, "a.png", "mock"))
	if n := calls.Load(); n != 0 {
		t.Errorf("unsubscribed handler called %d times", n)
	}
}

func TestWaitTask_Unknown(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	if _, err := o.WaitTask(context.Background(), "task_missing"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("WaitTask error = %v, want ErrTaskNotFound", err)
	}
}

func TestWaitTask_Cleared(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	release := make(chan struct{})
	defer close(release)
	o.RegisterProvider("mock", &testutil.MockAdapter{
		AuthenticateFunc: func(context.Context, auth.Session) (bool, error) {
			<-release
			return true, nil
		},
	})
	id := submit(t, o, "a.png", "mock")

	errCh := make(chan error, 1)
	go func() {
		_, err := o.WaitTask(context.Background(), id)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	o.ClearTasks()

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrTaskNotFound) {
			t.Errorf("WaitTask error = %v, want ErrTaskNotFound", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("WaitTask did not return after ClearTasks")
	}
}

func TestClose_CancelsUnfinishedTasks(t *testing.T) {
	o, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.RegisterProvider("mock", &testutil.MockAdapter{
		PerformFunc: testutil.DelayedResult(time.Minute, provider.RemoteResult{URL: "https://x"}),
	})
	started := make(chan struct{}, 1)
	o.On(event.TypeTaskStarted, func(event.Event) { started <- struct{}{} })

	id := submit(t, o, "a.png", "mock")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, _ := o.GetTask(id); got.Status != task.StatusCancelled {
		t.Errorf("status after Close = %s, want cancelled", got.Status)
	}
}

func TestMetricsWired(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(t, Config{}, WithMetrics(metrics.MustNew(reg)))
	o.RegisterProvider("mock", &testutil.MockAdapter{})

	waitTask(t, o, submit(t, o, "a.png", "mock"))

	n, err := promtest.GatherAndCount(reg, "uplink_tasks_submitted_total", "uplink_tasks_finished_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestAssets(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.RegisterProvider("local", localfs.New(afero.NewMemMapFs(), "/store", localfs.WithBaseURL("https://files.test")))
	o.RegisterProvider("mock", &testutil.MockAdapter{})
	ctx := context.Background()

	id, err := o.Submit(ctx, blob("a.png"), "local", provider.KindUpload, provider.UploadOptions{Folder: "shots"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitTask(t, o, id); got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", got.Status, got.Error)
	}

	assets, err := o.ListAssets(ctx, "local", "shots")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != "shots/a.png" {
		t.Fatalf("assets = %+v, want shots/a.png", assets)
	}

	url, err := o.DownloadURL(ctx, "local", "shots/a.png")
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	if url != "https://files.test/shots/a.png" {
		t.Errorf("DownloadURL = %q", url)
	}

	deleted, err := o.DeleteAsset(ctx, "local", "shots/a.png")
	if err != nil || !deleted {
		t.Fatalf("DeleteAsset = %v, %v; want true", deleted, err)
	}

	if _, err := o.ListAssets(ctx, "mock", ""); !errors.Is(err, errors.ErrUnsupportedCapability) {
		t.Errorf("ListAssets on mock error = %v, want ErrUnsupportedCapability", err)
	}
	if _, err := o.ListAssets(ctx, "missing", ""); !errors.Is(err, errors.ErrProviderNotRegistered) {
		t.Errorf("ListAssets on missing provider error = %v, want ErrProviderNotRegistered", err)
	}
}
