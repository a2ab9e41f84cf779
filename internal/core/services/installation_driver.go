package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
)

const (
	MsgStarting           = "Starting installation..."
	MsgInstallPrimary     = "Installing MongoDB on primary node..."
	MsgConfigurePrimary   = "Configuring primary node replica set..."
	MsgInstallSecondary   = "Installing MongoDB on secondary node..."
	MsgJoinSecondary      = "Adding secondary node to replica set..."
	MsgVerify             = "Verifying replica set configuration..."
	MsgCompleted          = "MongoDB replica set installation completed successfully!"
	msgFailedPrefix       = "Installation failed: "
	timelineWriteDeadline = 5 * time.Second
)

type InstallationDriver struct {
	store     ports.TaskStore
	dialer    ports.RemoteDialer
	executor  *CommandExecutor
	bootstrap *ReplicaBootstrapper
	keyFiles  ports.KeyFileStore
	timeline  ports.TimelineRepository
	logger    *logger.Logger
	sshPort   int

	mu           sync.Mutex
	running      map[string]context.CancelFunc
	shuttingDown bool
	wg           sync.WaitGroup
	baseCtx      context.Context
	stop         context.CancelFunc
}

type InstallationDriverConfig struct {
	Store        ports.TaskStore
	Dialer       ports.RemoteDialer
	Executor     *CommandExecutor
	Bootstrapper *ReplicaBootstrapper
	KeyFiles     ports.KeyFileStore
	TimelineRepo ports.TimelineRepository
	Logger       *logger.Logger
	SSHPort      int
}

var _ ports.InstallationService = (*InstallationDriver)(nil)

func NewInstallationDriver(cfg InstallationDriverConfig) *InstallationDriver {
	baseCtx, stop := context.WithCancel(context.Background())
	return &InstallationDriver{
		store:     cfg.Store,
		dialer:    cfg.Dialer,
		executor:  cfg.Executor,
		bootstrap: cfg.Bootstrapper,
		keyFiles:  cfg.KeyFiles,
		timeline:  cfg.TimelineRepo,
		logger:    cfg.Logger,
		sshPort:   cfg.SSHPort,
		running:   make(map[string]context.CancelFunc),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// NewTaskID returns an opaque identifier of the form task_<hex>.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start validates req, publishes it as installing and runs it in the
// background. It returns as soon as the run is dispatched.
func (d *InstallationDriver) Start(req domain.InstallRequest) (string, error) {
	if req.TaskID == "" {
		req.TaskID = NewTaskID()
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, cancel := context.WithCancel(d.baseCtx)

	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	if _, busy := d.running[req.TaskID]; busy {
		d.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: task %s already running", ErrInvalidRequest, req.TaskID)
	}
	d.running[req.TaskID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.store.Set(req.TaskID, domain.TaskStatusInstalling, MsgStarting)

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, req.TaskID)
			d.mu.Unlock()
			cancel()
		}()
		_ = d.Run(ctx, req)
	}()

	d.logger.Infow("installation_dispatched", "task_id", req.TaskID, "primary", req.PrimaryIP, "secondary", req.SecondaryIP)
	return req.TaskID, nil
}

// Run performs the whole installation synchronously. The key file is deleted
// and every session closed before the terminal status is published.
func (d *InstallationDriver) Run(ctx context.Context, req domain.InstallRequest) error {
	d.store.Set(req.TaskID, domain.TaskStatusInstalling, MsgStarting)
	d.record(req.TaskID, domain.EventTypeInstallStart, domain.EventStatusPending, MsgStarting, "")

	err := d.safeInstall(ctx, req)
	d.removeKeyFile(req.KeyPath)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", ErrTaskCancelled, err)
		}
		d.logger.Errorw("installation_failed", "task_id", req.TaskID, "error", err)
		d.record(req.TaskID, domain.EventTypeInstallFailed, domain.EventStatusFailed, err.Error(), "")
		d.store.Set(req.TaskID, domain.TaskStatusError, msgFailedPrefix+err.Error())
		return err
	}

	d.logger.Infow("installation_completed", "task_id", req.TaskID)
	d.record(req.TaskID, domain.EventTypeInstallDone, domain.EventStatusSuccess, MsgCompleted, "")
	d.store.Set(req.TaskID, domain.TaskStatusCompleted, MsgCompleted)
	return nil
}

func (d *InstallationDriver) safeInstall(ctx context.Context, req domain.InstallRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("panic during installation", "task_id", req.TaskID, "panic", r)
			err = fmt.Errorf("installation panic: %v", r)
		}
	}()
	return d.install(ctx, req)
}

func (d *InstallationDriver) install(ctx context.Context, req domain.InstallRequest) (err error) {
	user := domain.LoginUserFor(req.OSFamily)
	primary := domain.Node{Role: domain.NodeRolePrimary, Address: req.PrimaryIP, User: user, SSHPort: d.sshPort}
	secondary := domain.Node{Role: domain.NodeRoleSecondary, Address: req.SecondaryIP, User: user, SSHPort: d.sshPort}

	privateKey, err := os.ReadFile(req.KeyPath)
	if err != nil {
		return fmt.Errorf("%w: read key file: %v", ErrConnectionFailed, err)
	}

	primaryConfigured := false
	defer func() {
		if err != nil && primaryConfigured {
			d.logger.Warnw("primary_left_single_member",
				"task_id", req.TaskID,
				"primary", req.PrimaryIP,
				"backup", domain.MongoBackupPath,
			)
		}
	}()

	// Primary
	d.phase(req.TaskID, domain.EventTypePrimaryInstall, MsgInstallPrimary, primary.Address)
	primarySession, err := d.connect(ctx, primary, privateKey)
	if err != nil {
		return err
	}
	closePrimary := d.closer(primarySession, primary.Address)
	defer closePrimary()

	platform, err := PlatformFor(req.OSFamily)
	if err != nil {
		return err
	}
	version, err := ParseVersion(req.Version)
	if err != nil {
		return err
	}
	plan := platform.InstallationPlan(version)

	if err := d.executor.Execute(ctx, primarySession, primary.Address, plan); err != nil {
		return err
	}

	d.phase(req.TaskID, domain.EventTypePrimaryBootstrap, MsgConfigurePrimary, primary.Address)
	target := BootstrapTarget{
		Role:        domain.NodeRolePrimary,
		PrimaryIP:   req.PrimaryIP,
		SecondaryIP: req.SecondaryIP,
		DataPath:    platform.DataPath(),
	}
	if err := d.bootstrap.Bootstrap(ctx, primarySession, target, d.observer(req.TaskID)); err != nil {
		return err
	}
	primaryConfigured = true
	closePrimary()

	// Secondary
	d.phase(req.TaskID, domain.EventTypeSecondaryInstall, MsgInstallSecondary, secondary.Address)
	secondarySession, err := d.connect(ctx, secondary, privateKey)
	if err != nil {
		return err
	}
	closeSecondary := d.closer(secondarySession, secondary.Address)
	defer closeSecondary()

	if err := d.executor.Execute(ctx, secondarySession, secondary.Address, plan); err != nil {
		return err
	}

	d.phase(req.TaskID, domain.EventTypeSecondaryJoin, MsgJoinSecondary, secondary.Address)
	target.Role = domain.NodeRoleSecondary
	if err := d.bootstrap.Bootstrap(ctx, secondarySession, target, d.observer(req.TaskID)); err != nil {
		return err
	}

	d.phase(req.TaskID, domain.EventTypeReplicaVerify, MsgVerify, secondary.Address)
	status, verifyErr := d.bootstrap.VerifyReplicaSet(ctx, secondarySession, secondary.Address, req.PrimaryIP)
	if verifyErr != nil {
		d.logger.Warnw("replica_set_verify_failed", "task_id", req.TaskID, "error", verifyErr)
	} else {
		d.logger.Infow("replica_set_status", "task_id", req.TaskID, "status", status)
	}
	return nil
}

func (d *InstallationDriver) connect(ctx context.Context, node domain.Node, privateKey []byte) (ports.RemoteSession, error) {
	d.logger.Infow("ssh_connecting", "host", node.Address, "user", node.User, "role", node.Role)
	session, err := d.dialer.Dial(ctx, node, privateKey)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s node %s: %v", ErrConnectionFailed, node.Role, node.Address, err)
	}
	return session, nil
}

// closer returns an idempotent close func that ignores close errors.
func (d *InstallationDriver) closer(session ports.RemoteSession, host string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := session.Close(); err != nil {
				d.logger.Debugw("ssh_close_failed", "host", host, "error", err)
			}
		})
	}
}

func (d *InstallationDriver) observer(taskID string) StateObserver {
	return func(role domain.NodeRole, state BootstrapState) {
		d.logger.Debugw("bootstrap_state", "task_id", taskID, "role", role, "state", state.String())
	}
}

func (d *InstallationDriver) phase(taskID, eventType, message, host string) {
	d.logger.Infow("task_phase", "task_id", taskID, "phase", eventType, "host", host)
	d.store.Set(taskID, domain.TaskStatusInstalling, message)
	d.record(taskID, eventType, domain.EventStatusPending, message, host)
}

// removeKeyFile never fails; a leftover key is logged, not reported.
func (d *InstallationDriver) removeKeyFile(path string) {
	if path == "" {
		return
	}
	var err error
	if d.keyFiles != nil {
		err = d.keyFiles.Remove(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warnw("key_file_remove_failed", "path", path, "error", err)
	}
}

func (d *InstallationDriver) record(taskID, eventType string, status domain.EventStatus, message, host string) {
	if d.timeline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timelineWriteDeadline)
	defer cancel()

	event := &domain.TimelineEvent{
		Type:    eventType,
		Status:  status,
		Message: message,
		TaskID:  taskID,
		Host:    host,
		Meta:    domain.JSONB{"task_id": taskID},
	}
	if err := d.timeline.Create(ctx, event); err != nil {
		d.logger.Errorw("failed to log timeline event", "task_id", taskID, "error", err)
	}
}

func (d *InstallationDriver) Status(taskID string) domain.TaskRecord {
	return d.store.Get(taskID)
}

// Cancel stops a running task. It reports false if the task is not running.
func (d *InstallationDriver) Cancel(taskID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[taskID]
	d.mu.Unlock()
	if ok {
		d.logger.Infow("installation_cancel_requested", "task_id", taskID)
		cancel()
	}
	return ok
}

// Wait blocks until every dispatched run has returned.
func (d *InstallationDriver) Wait() {
	d.wg.Wait()
}

// Shutdown cancels all running tasks and waits for them to publish their
// final status.
func (d *InstallationDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
