// Package engine is the facade spec §4.1 calls the core: it composes
// storage, the scheduler's admission policy, and the worker's per-task
// transfer loop into add_task/list_tasks/get_task/pause/resume/cancel/
// remove/enqueue_queued/start_next/shutdown. Grounded on the teacher's
// core.DownloadService interface (internal/core/interface.go) for the
// method-set shape, generalized from its HTTP+SSE RemoteDownloadService
// client onto a direct in-process composition of storage+scheduler+worker.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muhammad1505/idm-open/internal/checksum"
	"github.com/muhammad1505/idm-open/internal/config"
	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/logging"
	"github.com/muhammad1505/idm-open/internal/netclient"
	"github.com/muhammad1505/idm-open/internal/resolver"
	"github.com/muhammad1505/idm-open/internal/scheduler"
	"github.com/muhammad1505/idm-open/internal/storage"
	"github.com/muhammad1505/idm-open/internal/throttle"
	"github.com/muhammad1505/idm-open/internal/worker"
)

// Engine is the single entry point an external collaborator (a CLI, a
// daemon loop, a future UI) drives through spec §4.1's operations. It owns
// the store, the scheduler, and every collaborator a Runner needs.
type Engine struct {
	store   *storage.Store
	sched   *scheduler.Scheduler
	client  *netclient.Client
	res     *resolver.Resolver
	cfg     *config.RuntimeConfig
	global  *throttle.Throttle
	destDir string

	cancelMu     sync.Mutex
	cancelIntent map[string]*atomicStatus
}

// New opens the store at settings.DBPath and builds an Engine ready to
// accept operations. Any task left "queued" from a previous run is loaded
// back into the scheduler's pending queue, since that queue is in-memory
// only and does not survive a restart on its own. Tasks the store's crash
// recovery demoted from "active" are "paused", not "queued", and wait for
// an explicit resume.
func New(settings *config.Settings) (*Engine, error) {
	store, err := storage.Open(settings.DBPath)
	if err != nil {
		return nil, err
	}

	cfg := settings.ToRuntimeConfig()
	client, err := netclient.New(cfg, cfg.ProxyURL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// Global throughput is unmetered by default: nothing in the spec names
	// a default byte-rate cap, only default segment/connection counts.
	e := &Engine{
		store:        store,
		client:       client,
		res:          resolver.New(client),
		cfg:          cfg,
		global:       throttle.New(0),
		destDir:      settings.DownloadDir,
		cancelIntent: make(map[string]*atomicStatus),
	}

	e.sched = scheduler.New(context.Background(), settings.MaxActiveTasks, e.dispatch)

	queued, err := store.ListQueuedTasks(context.Background())
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	for _, t := range queued {
		e.sched.Enqueue(t)
	}

	return e, nil
}

// atomicStatus is a tiny box around storage.Status safe for the
// signal-then-cancel handoff between a facade call and the Runner
// goroutine it cancels: written once under cancelMu before Signal is
// called, read once by the Runner after it observes ctx.Err().
type atomicStatus struct {
	mu     sync.Mutex
	status storage.Status
}

func (a *atomicStatus) set(s storage.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *atomicStatus) get() storage.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// AddTaskOptions carries every add_task option beyond the url/dest pair.
type AddTaskOptions struct {
	Headers     map[string]string
	Cookies     []storage.Cookie
	Mirrors     []string
	Proxy       string
	AuthUser    string
	AuthPass    string
	SpeedCapBPS int
	Priority    int
	ChecksumAlg string
	ChecksumHex string
}

// TaskDetail is the task-detail JSON shape of spec §6.3. ListTasks returns
// these as a JSON array per the same section.
type TaskDetail struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	DestPath        string `json:"dest_path"`
	Status          string `json:"status"`
	TotalBytes      int64  `json:"total_bytes"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	Error           string `json:"error,omitempty"`
}

func toDetail(t *storage.Task) TaskDetail {
	return TaskDetail{
		ID:              t.ID,
		URL:             t.URL,
		DestPath:        t.DestPath,
		Status:          string(t.Status),
		TotalBytes:      t.TotalBytes,
		DownloadedBytes: t.DownloadedBytes,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		Error:           t.Error,
	}
}

// AddTask validates url and options, persists a new queued task, and
// admits it immediately if a slot is free. Returns the new task's id.
func (e *Engine) AddTask(ctx context.Context, rawURL, destOpt string, opts AddTaskOptions) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", idmerrors.InvalidInput(fmt.Sprintf("malformed url: %q", rawURL), err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", idmerrors.InvalidInput(fmt.Sprintf("unsupported url scheme: %q", parsed.Scheme), nil)
	}
	if opts.ChecksumAlg != "" && !checksum.IsSupported(opts.ChecksumAlg) {
		return "", idmerrors.InvalidInput(fmt.Sprintf("unsupported checksum algorithm: %q", opts.ChecksumAlg), nil)
	}

	dest, err := e.prepareDest(destOpt)
	if err != nil {
		return "", err
	}

	task := &storage.Task{
		ID:           uuid.NewString(),
		URL:          rawURL,
		DestPath:     dest,
		Status:       storage.StatusQueued,
		Priority:     opts.Priority,
		ProxyURL:     opts.Proxy,
		AuthUser:     opts.AuthUser,
		AuthPass:     opts.AuthPass,
		SpeedCapBPS:  opts.SpeedCapBPS,
		ChecksumType: opts.ChecksumAlg,
		ChecksumHex:  opts.ChecksumHex,
	}

	var headers []storage.Header
	for name, value := range opts.Headers {
		headers = append(headers, storage.Header{TaskID: task.ID, Name: name, Value: value})
	}
	mirrors := make([]storage.Mirror, 0, len(opts.Mirrors))
	for i, m := range opts.Mirrors {
		mirrors = append(mirrors, storage.Mirror{TaskID: task.ID, URL: m, Rank: i + 1})
	}

	if err := e.store.InsertTask(ctx, task, headers, opts.Cookies, mirrors); err != nil {
		return "", err
	}

	// Registered before the task can possibly be admitted, so a Cancel
	// racing right behind AddTask always finds a box to write its intent
	// into instead of the dispatcher creating one too late to matter.
	e.registerIntent(task.ID)

	e.sched.Enqueue(task)
	e.sched.AdmitAll()
	return task.ID, nil
}

// registerIntent ensures a cancel-intent box exists for taskID, without
// clobbering one a concurrent caller may have just created.
func (e *Engine) registerIntent(taskID string) *atomicStatus {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if intent, ok := e.cancelIntent[taskID]; ok {
		return intent
	}
	intent := &atomicStatus{}
	e.cancelIntent[taskID] = intent
	return intent
}

// prepareDest decides whether destOpt (or, if empty, the engine's default
// download directory) names a directory the worker should fill a resolved
// filename into later, or a literal file path, and ensures the relevant
// directory exists either way.
func (e *Engine) prepareDest(destOpt string) (string, error) {
	dest := destOpt
	if dest == "" {
		dest = e.destDir
	}
	if dest == "" {
		dest = "."
	}

	dirHint := destOpt == "" || strings.HasSuffix(destOpt, string(os.PathSeparator))
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dirHint = true
	}

	if dirHint {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", idmerrors.Storage("creating download directory", err)
		}
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", idmerrors.Storage("creating destination directory", err)
	}
	return dest, nil
}

// ListTasks returns every task's detail, in no specified order, per §6.3.
func (e *Engine) ListTasks(ctx context.Context) ([]TaskDetail, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskDetail, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toDetail(t))
	}
	return out, nil
}

// GetTask returns one task's detail, or nil if id does not exist.
func (e *Engine) GetTask(ctx context.Context, id string) (*TaskDetail, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	d := toDetail(t)
	return &d, nil
}

// Pause moves an active task to paused (via a non-blocking cancellation
// signal the Runner itself acts on) or a queued one straight to paused.
// Already-paused is idempotent; any other status is rejected.
func (e *Engine) Pause(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return idmerrors.InvalidInput(fmt.Sprintf("task not found: %q", id), nil)
	}

	if e.sched.Signal(id) {
		return nil
	}

	switch task.Status {
	case storage.StatusQueued:
		e.sched.RemoveQueued(id)
		return e.store.SetStatus(ctx, id, storage.StatusPaused, storage.EventPaused, "")
	case storage.StatusPaused:
		return nil
	default:
		return idmerrors.InvalidInput(fmt.Sprintf("cannot pause task in status %q", task.Status), nil)
	}
}

// Resume re-enters a paused or failed task at the head of its priority
// band (spec §4.9's resume fairness rule) and tries to admit it right away.
func (e *Engine) Resume(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return idmerrors.InvalidInput(fmt.Sprintf("task not found: %q", id), nil)
	}
	switch task.Status {
	case storage.StatusPaused, storage.StatusFailed:
	default:
		return idmerrors.InvalidInput(fmt.Sprintf("cannot resume task in status %q", task.Status), nil)
	}

	if err := e.store.SetStatus(ctx, id, storage.StatusQueued, storage.EventResumed, ""); err != nil {
		return err
	}
	task.Status = storage.StatusQueued
	task.Error = ""
	e.registerIntent(task.ID).set("")
	e.sched.Requeue(task)
	e.sched.AdmitAll()
	return nil
}

// Cancel aborts a queued or active task and marks it canceled. A canceled
// task keeps its persisted segments and working file; remove deletes the
// segments and other rows but leaves the working file on disk.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return idmerrors.InvalidInput(fmt.Sprintf("task not found: %q", id), nil)
	}
	switch task.Status {
	case storage.StatusCompleted, storage.StatusCanceled:
		return idmerrors.InvalidInput(fmt.Sprintf("cannot cancel task in status %q", task.Status), nil)
	}

	e.sched.RemoveQueued(id)

	e.cancelMu.Lock()
	intent, ok := e.cancelIntent[id]
	e.cancelMu.Unlock()
	if ok {
		intent.set(storage.StatusCanceled)
	}
	if e.sched.Signal(id) {
		// The Runner will persist StatusCanceled itself once it observes
		// ctx.Err(), having consulted the intent set above, and its own
		// dispatch defer will clean up the intent box when it returns.
		return nil
	}

	// Not active (queued and just removed above, or already paused/failed):
	// no dispatch defer will ever run for this task, so clean up here.
	e.cancelMu.Lock()
	delete(e.cancelIntent, id)
	e.cancelMu.Unlock()

	return e.store.SetStatus(ctx, id, storage.StatusCanceled, storage.EventCanceled, "")
}

// Remove cancels a task if necessary, then deletes its row, segments,
// headers, cookies, mirrors and events, leaving any partial file on disk.
func (e *Engine) Remove(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return idmerrors.InvalidInput(fmt.Sprintf("task not found: %q", id), nil)
	}

	switch task.Status {
	case storage.StatusCompleted, storage.StatusCanceled, storage.StatusFailed:
	default:
		if err := e.Cancel(ctx, id); err != nil {
			return err
		}
	}

	return e.store.RemoveTask(ctx, id)
}

// EnqueueQueued admits every queued task the active cap allows, per
// enqueue_queued, and reports how many it admitted.
func (e *Engine) EnqueueQueued() int {
	return e.sched.AdmitAll()
}

// StartNext admits at most one queued task, per start_next.
func (e *Engine) StartNext() (string, bool) {
	return e.sched.AdmitOne()
}

// Shutdown signals every active task, waits up to the configured grace
// period for them to persist and exit, then detaches (returns without
// waiting further) and closes the store. Idempotent: a second call finds
// nothing active in the scheduler and the store's Close is idempotent too.
func (e *Engine) Shutdown() {
	done := make(chan struct{})
	go func() {
		e.sched.Shutdown()
		close(done)
	}()

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		logging.Warn("shutdown grace period elapsed, detaching remaining workers")
	}

	if err := e.store.Close(); err != nil {
		logging.Warn("closing store: %v", err)
	}
}

// dispatch is the scheduler.Dispatcher the engine hands to its Scheduler:
// it loads a task's attrs, builds a Runner, registers a cancel intent, and
// runs it to completion or cancellation.
func (e *Engine) dispatch(ctx context.Context, task *storage.Task) {
	headers, err := e.store.ListHeaders(ctx, task.ID)
	if err != nil {
		logging.Warn("loading headers for task %s: %v", task.ID, err)
	}
	cookies, err := e.store.ListCookies(ctx, task.ID)
	if err != nil {
		logging.Warn("loading cookies for task %s: %v", task.ID, err)
	}
	mirrors, err := e.store.ListMirrors(ctx, task.ID)
	if err != nil {
		logging.Warn("loading mirrors for task %s: %v", task.ID, err)
	}

	deps := worker.Dependencies{
		Store:    e.store,
		Client:   e.client,
		Resolver: e.res,
		Cfg:      e.cfg,
		Global:   e.global,
	}
	runner := worker.NewRunner(deps, task, headers, cookies, mirrors)
	runner.CancelStatus = e.registerIntent(task.ID).get
	defer func() {
		e.cancelMu.Lock()
		delete(e.cancelIntent, task.ID)
		e.cancelMu.Unlock()
	}()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Warn("task %s: %v", task.ID, err)
	}
}
