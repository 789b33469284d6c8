package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	gmotel "github.com/Strob0t/GowaManager/internal/adapter/otel"
	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/port/database"
)

// restartDelay is the pause between stop and start on restart.
const restartDelay = time.Second

// childLogName is the file in the instance working directory receiving the
// child's stdout and stderr.
const childLogName = "gowa.log"

// processRecord tracks one live child. Owned exclusively by the engine;
// never serialized.
type processRecord struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{} // closed by the exit observer
	logFile   *os.File
}

func (r *processRecord) live() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// InstanceService is the lifecycle engine. It owns the child-process map and
// serializes all state transitions per instance.
type InstanceService struct {
	store    database.Store
	ports    *PortAllocator
	versions *VersionService
	monitor  *ResourceMonitor
	data     config.Data
	prefix   string

	mu    sync.Mutex
	procs map[int64]*processRecord

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// NewInstanceService creates the engine.
func NewInstanceService(
	store database.Store,
	ports *PortAllocator,
	versions *VersionService,
	monitor *ResourceMonitor,
	data config.Data,
	proxyPrefix string,
) *InstanceService {
	return &InstanceService{
		store:    store,
		ports:    ports,
		versions: versions,
		monitor:  monitor,
		data:     data,
		prefix:   proxyPrefix,
		procs:    make(map[int64]*processRecord),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// lock serializes operations on one instance id. Concurrent operations on
// distinct ids proceed independently.
func (s *InstanceService) lock(id int64) func() {
	s.lockMu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

// List returns all instances, newest first.
func (s *InstanceService) List(ctx context.Context) ([]instance.Instance, error) {
	return s.store.ListInstances(ctx)
}

// Get returns one instance by id.
func (s *InstanceService) Get(ctx context.Context, id int64) (*instance.Instance, error) {
	return s.store.GetInstance(ctx, id)
}

// GetByKey returns one instance by its slug.
func (s *InstanceService) GetByKey(ctx context.Context, key string) (*instance.Instance, error) {
	return s.store.GetInstanceByKey(ctx, key)
}

// createAttempts bounds retries when a generated key or name collides.
const createAttempts = 3

// Create allocates a port, generates key (and name when absent), persists
// the row with status stopped, and creates the working directory.
func (s *InstanceService) Create(ctx context.Context, req instance.CreateRequest) (*instance.Instance, error) {
	nameGiven := req.Name != ""
	if nameGiven {
		if err := instance.ValidateName(req.Name); err != nil {
			return nil, err
		}
	}
	if req.GowaVersion == "" {
		req.GowaVersion = instance.VersionLatest
	}

	port, err := s.ports.NextAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	var inst *instance.Instance
	for attempt := 0; attempt < createAttempts; attempt++ {
		key := instance.NewKey()
		name := req.Name
		if !nameGiven {
			name = instance.NewName()
		}

		cfg := instance.DefaultConfig(s.prefix, key)
		if req.Config != nil {
			cfg = *req.Config
		}
		// The proxy contract depends on this path; always reassert it.
		cfg.Flags.BasePath = instance.BasePath(s.prefix, key)

		candidate := &instance.Instance{
			Key:         key,
			Name:        name,
			Port:        &port,
			Status:      instance.StatusStopped,
			Config:      cfg,
			GowaVersion: req.GowaVersion,
		}

		err = s.store.CreateInstance(ctx, candidate)
		if err == nil {
			inst = candidate
			break
		}
		// A user-chosen name conflict is the caller's to resolve; only
		// generated identifiers are retried.
		if !errors.Is(err, domain.ErrConflict) || nameGiven {
			s.ports.Release(port)
			return nil, err
		}
	}
	s.ports.Release(port)
	if inst == nil {
		return nil, err
	}

	if err := os.MkdirAll(s.data.InstanceDir(inst.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	slog.Info("instance created", "id", inst.ID, "key", inst.Key, "name", inst.Name, "port", port)
	return inst, nil
}

// Update rewrites name, config and gowa_version. The running child, if any,
// is untouched; a version change takes effect on the next restart.
func (s *InstanceService) Update(ctx context.Context, id int64, req instance.UpdateRequest) (*instance.Instance, error) {
	unlock := s.lock(id)
	defer unlock()

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if err := instance.ValidateName(*req.Name); err != nil {
			return nil, err
		}
		inst.Name = *req.Name
	}
	if req.Config != nil {
		inst.Config = *req.Config
	}
	if req.GowaVersion != nil && *req.GowaVersion != "" {
		inst.GowaVersion = *req.GowaVersion
	}
	// Reasserted on every update so a caller cannot break the proxy path.
	inst.Config.Flags.BasePath = instance.BasePath(s.prefix, inst.Key)

	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Delete stops the child when running, removes the working directory and
// resource history, and deletes the row.
func (s *InstanceService) Delete(ctx context.Context, id int64) error {
	unlock := s.lock(id)
	defer unlock()

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	if rec := s.record(id); rec != nil {
		s.terminate(id, rec, true)
	}

	if err := os.RemoveAll(s.data.InstanceDir(id)); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}
	s.monitor.Forget(id)
	if inst.Port != nil {
		s.ports.Release(*inst.Port)
	}

	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	slog.Info("instance deleted", "id", id, "key", inst.Key)
	return nil
}

// Start spawns the child for an instance. Already running with a live
// record is a no-op returning current status. Start failures persist status
// error with the message.
func (s *InstanceService) Start(ctx context.Context, id int64) (*instance.StatusReport, error) {
	ctx, span := gmotel.StartLifecycleSpan(ctx, "start", id)
	defer span.End()

	unlock := s.lock(id)
	defer unlock()

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec := s.record(id); rec != nil && rec.live() {
		return s.report(ctx, inst), nil
	}

	report, err := s.startLocked(ctx, inst)
	if err != nil {
		msg := err.Error()
		if dbErr := s.store.UpdateStatus(ctx, id, instance.StatusError, &msg); dbErr != nil {
			slog.Error("persist start failure", "id", id, "error", dbErr)
		}
		return nil, err
	}
	return report, nil
}

// startLocked performs the actual spawn. Caller holds the instance lock.
func (s *InstanceService) startLocked(ctx context.Context, inst *instance.Instance) (*instance.StatusReport, error) {
	binPath, err := s.versions.Resolve(inst.GowaVersion)
	if err != nil {
		return nil, err
	}

	port, err := s.ensurePort(ctx, inst)
	if err != nil {
		return nil, err
	}

	workdir := s.data.InstanceDir(inst.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(workdir, childLogName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open child log: %w", err)
	}

	argv := inst.Config.Argv(port)
	cmd := exec.Command(binPath, argv...) //nolint:gosec // binary path comes from the managed versions dir
	cmd.Dir = workdir
	cmd.Env = inst.Config.Environ(os.Environ(), port)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("spawn %s: %w", binPath, err)
	}

	rec := &processRecord{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		logFile:   logFile,
	}

	s.mu.Lock()
	s.procs[inst.ID] = rec
	s.mu.Unlock()

	go s.observe(inst.ID, rec)

	if err := s.store.UpdateStatus(ctx, inst.ID, instance.StatusRunning, nil); err != nil {
		return nil, fmt.Errorf("persist running status: %w", err)
	}
	inst.Status = instance.StatusRunning
	inst.ErrorMessage = nil

	slog.Info("instance started",
		"id", inst.ID, "key", inst.Key, "pid", rec.pid, "port", port, "binary", binPath)
	return s.report(ctx, inst), nil
}

// ensurePort re-validates the persisted port with a live probe and
// reallocates when it has been taken.
func (s *InstanceService) ensurePort(ctx context.Context, inst *instance.Instance) (int, error) {
	if inst.Port != nil && s.ports.IsFree(ctx, *inst.Port) {
		return *inst.Port, nil
	}

	port, err := s.ports.NextAvailable(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	if err := s.store.UpdatePort(ctx, inst.ID, port); err != nil {
		s.ports.Release(port)
		return 0, fmt.Errorf("persist port: %w", err)
	}
	s.ports.Release(port)

	if inst.Port != nil {
		slog.Info("port reallocated", "id", inst.ID, "old", *inst.Port, "new", port)
	}
	inst.Port = &port
	return port, nil
}

// observe reaps the child and removes the process record. It deliberately
// does not touch persisted status; the startup auto-restart phase reconciles
// after a manager restart, and stop/start paths rewrite it explicitly.
func (s *InstanceService) observe(id int64, rec *processRecord) {
	err := rec.cmd.Wait()
	close(rec.done)
	_ = rec.logFile.Close()

	s.mu.Lock()
	if s.procs[id] == rec {
		delete(s.procs, id)
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("child exited", "id", id, "pid", rec.pid, "error", err)
	} else {
		slog.Info("child exited", "id", id, "pid", rec.pid)
	}
}

// Stop gracefully terminates the child and persists status stopped.
func (s *InstanceService) Stop(ctx context.Context, id int64) (*instance.StatusReport, error) {
	return s.halt(ctx, id, false)
}

// Kill forcefully terminates the child. An already-gone process is not an
// error.
func (s *InstanceService) Kill(ctx context.Context, id int64) (*instance.StatusReport, error) {
	return s.halt(ctx, id, true)
}

func (s *InstanceService) halt(ctx context.Context, id int64, force bool) (*instance.StatusReport, error) {
	op := "stop"
	if force {
		op = "kill"
	}
	ctx, span := gmotel.StartLifecycleSpan(ctx, op, id)
	defer span.End()

	unlock := s.lock(id)
	defer unlock()

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec := s.record(id); rec != nil {
		s.terminate(id, rec, force)
	}
	s.monitor.Forget(id)
	if inst.Port != nil {
		s.ports.Release(*inst.Port)
	}

	if err := s.store.UpdateStatus(ctx, id, instance.StatusStopped, nil); err != nil {
		return nil, err
	}
	inst.Status = instance.StatusStopped
	inst.ErrorMessage = nil

	slog.Info("instance stopped", "id", id, "key", inst.Key, "forced", force)
	return s.report(ctx, inst), nil
}

// terminate signals the child and drops the process record. The exit
// observer reaps the process.
func (s *InstanceService) terminate(id int64, rec *processRecord, force bool) {
	if rec.live() {
		var err error
		if force {
			err = rec.cmd.Process.Kill()
		} else {
			err = rec.cmd.Process.Signal(syscall.SIGTERM)
		}
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Warn("signal child", "id", id, "pid", rec.pid, "error", err)
		}
	}

	s.mu.Lock()
	if s.procs[id] == rec {
		delete(s.procs, id)
	}
	s.mu.Unlock()
}

// Restart stops the child, waits briefly, and starts it again.
func (s *InstanceService) Restart(ctx context.Context, id int64) (*instance.StatusReport, error) {
	if _, err := s.Stop(ctx, id); err != nil {
		return nil, err
	}

	select {
	case <-time.After(restartDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.Start(ctx, id)
}

// Status returns the current report for one instance.
func (s *InstanceService) Status(ctx context.Context, id int64) (*instance.StatusReport, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, inst), nil
}

// report assembles a StatusReport from the persisted row and the live
// process record.
func (s *InstanceService) report(ctx context.Context, inst *instance.Instance) *instance.StatusReport {
	rep := &instance.StatusReport{
		ID:           inst.ID,
		Name:         inst.Name,
		Status:       inst.Status,
		Port:         inst.Port,
		ErrorMessage: inst.ErrorMessage,
	}

	rec := s.record(inst.ID)
	if rec == nil || !rec.live() {
		return rep
	}

	rep.PID = rec.pid
	rep.UptimeMS = time.Since(rec.startedAt).Milliseconds()

	id := inst.ID
	if sample, err := s.monitor.Sample(ctx, int32(rec.pid), &id); err == nil && sample != nil {
		rep.Resources = sample
	}
	return rep
}

// record returns the live process record for an id, or nil.
func (s *InstanceService) record(id int64) *processRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

// Running reports whether the engine tracks a live child for the id.
func (s *InstanceService) Running(id int64) bool {
	rec := s.record(id)
	return rec != nil && rec.live()
}

// RunningCount returns the number of tracked live children.
func (s *InstanceService) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.procs {
		if rec.live() {
			n++
		}
	}
	return n
}

// LatestPinnedRunning returns instances on the floating channel whose
// persisted status is running. The auto-updater restarts these after an
// update.
func (s *InstanceService) LatestPinnedRunning(ctx context.Context) ([]instance.Instance, error) {
	running, err := s.store.ListByStatus(ctx, instance.StatusRunning)
	if err != nil {
		return nil, err
	}
	var out []instance.Instance
	for _, inst := range running {
		if inst.GowaVersion == "" || inst.GowaVersion == instance.VersionLatest {
			out = append(out, inst)
		}
	}
	return out, nil
}

// StartupRestart re-spawns every instance whose persisted status is running.
// Called at boot after the store is ready and before the listener opens.
// Individual failures transition that instance to error and do not abort
// the sweep.
func (s *InstanceService) StartupRestart(ctx context.Context, concurrency int) {
	running, err := s.store.ListByStatus(ctx, instance.StatusRunning)
	if err != nil {
		slog.Error("startup restart: list running instances", "error", err)
		return
	}
	if len(running) == 0 {
		return
	}

	slog.Info("startup restart", "count", len(running))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, inst := range running {
		g.Go(func() error {
			if _, err := s.Start(ctx, inst.ID); err != nil {
				slog.Error("startup restart failed", "id", inst.ID, "key", inst.Key, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown force-kills every tracked child and waits for the exit observers,
// bounded by the context. Persisted status is deliberately left as running
// so the next boot re-establishes the children.
func (s *InstanceService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	recs := make(map[int64]*processRecord, len(s.procs))
	for id, rec := range s.procs {
		recs[id] = rec
	}
	s.mu.Unlock()

	for id, rec := range recs {
		if rec.live() {
			if err := rec.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.Warn("shutdown kill", "id", id, "pid", rec.pid, "error", err)
			}
		}
	}

	for id, rec := range recs {
		select {
		case <-rec.done:
		case <-ctx.Done():
			slog.Warn("shutdown wait aborted", "id", id)
			return
		}
	}
}
