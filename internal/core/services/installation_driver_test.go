package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioRequest(t *testing.T) domain.InstallRequest {
	return domain.InstallRequest{
		TaskID:      "t1",
		PrimaryIP:   "10.0.0.1",
		SecondaryIP: "10.0.0.2",
		OSFamily:    "Ubuntu 22.04",
		Version:     "8.0",
		KeyPath:     writeKeyFile(t),
	}
}

func assertKeyRemoved(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "key file %s should be deleted", path)
}

func TestInstallationDriverCompletes(t *testing.T) {
	dialer := newFakeDialer()
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	taskID, err := driver.Start(req)
	require.NoError(t, err)
	assert.Equal(t, "t1", taskID)

	driver.Wait()

	record := store.Get("t1")
	assert.Equal(t, domain.TaskStatusCompleted, record.Status)
	assert.Equal(t, MsgCompleted, record.Message)
	assertKeyRemoved(t, req.KeyPath)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, dialer.dialedHosts())
	for _, rec := range dialer.dials {
		assert.Equal(t, "ubuntu", rec.user)
	}

	primary, secondary := dialer.session("10.0.0.1"), dialer.session("10.0.0.2")
	assert.True(t, primary.ran("rs.initiate"))
	assert.False(t, primary.ran("rs.add"))
	assert.True(t, secondary.ran(`rs.add("10.0.0.2:27017")`))
	assert.False(t, secondary.ran("rs.initiate"))
	assert.True(t, secondary.ran("rs.status()"))
	assert.Equal(t, 1, primary.closeCount())
	assert.Equal(t, 1, secondary.closeCount())

	plan, err := BuildInstallationPlan(req.OSFamily, req.Version)
	require.NoError(t, err)
	for _, cmd := range plan {
		assert.True(t, primary.ran(cmd.Directive), "primary missing %s", cmd.Name)
		assert.True(t, secondary.ran(cmd.Directive), "secondary missing %s", cmd.Name)
	}
}

func TestInstallationDriverSecondaryInstallFails(t *testing.T) {
	dialer := newFakeDialer()
	dialer.session("10.0.0.2").respond = failWhen("install -y mongodb-org=", "E: Unable to locate package mongodb-org")
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	_, err := driver.Start(req)
	require.NoError(t, err)
	driver.Wait()

	plan, err := BuildInstallationPlan(req.OSFamily, req.Version)
	require.NoError(t, err)
	installDirective := plan[len(plan)-1].Directive

	record := store.Get("t1")
	assert.Equal(t, domain.TaskStatusError, record.Status)
	assert.True(t, strings.HasPrefix(record.Message, "Installation failed: "), record.Message)
	assert.Contains(t, record.Message, installDirective)
	assert.Contains(t, record.Message, "Unable to locate package")

	for _, s := range []*fakeSession{dialer.session("10.0.0.1"), dialer.session("10.0.0.2")} {
		assert.False(t, s.ran("rs.add"), "no join may be issued on %s", s.host)
	}
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverPrimaryConnectionFails(t *testing.T) {
	dialer := newFakeDialer()
	dialer.errs["10.0.0.1"] = errors.New("dial tcp 10.0.0.1:22: connect: connection refused")
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	err := driver.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrConnectionFailed)

	record := store.Get("t1")
	assert.Equal(t, domain.TaskStatusError, record.Status)
	assert.Contains(t, record.Message, "connection refused")
	assert.Equal(t, []string{"10.0.0.1"}, dialer.dialedHosts())
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverSecondaryConnectionFails(t *testing.T) {
	dialer := newFakeDialer()
	dialer.errs["10.0.0.2"] = errors.New("i/o timeout")
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	err := driver.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrConnectionFailed)

	assert.True(t, dialer.session("10.0.0.1").ran("rs.initiate"), "primary work happens before the secondary dial")
	assert.Equal(t, domain.TaskStatusError, store.Get("t1").Status)
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverCleanupSurvivesCloseErrors(t *testing.T) {
	dialer := newFakeDialer()
	dialer.session("10.0.0.1").closeErr = errors.New("close: broken pipe")
	dialer.session("10.0.0.2").closeErr = errors.New("close: broken pipe")
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	require.NoError(t, driver.Run(context.Background(), req))
	assert.Equal(t, domain.TaskStatusCompleted, store.Get("t1").Status)
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverFailureClosesSessionAndRemovesKey(t *testing.T) {
	dialer := newFakeDialer()
	dialer.session("10.0.0.1").respond = failWhen("rs.initiate", "")
	dialer.session("10.0.0.1").closeErr = errors.New("already closed")
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	err := driver.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrReplicaSetInitFailed)

	assert.Equal(t, 1, dialer.session("10.0.0.1").closeCount())
	assert.Equal(t, []string{"10.0.0.1"}, dialer.dialedHosts())
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverUnsupportedPlatform(t *testing.T) {
	dialer := newFakeDialer()
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)
	req.OSFamily = "FreeBSD 14"

	err := driver.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrUnsupportedPlatform)

	record := store.Get("t1")
	assert.Equal(t, domain.TaskStatusError, record.Status)
	assert.Contains(t, record.Message, "unsupported OS type")
	assert.Empty(t, dialer.session("10.0.0.1").Commands())
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverAmazonLoginUser(t *testing.T) {
	dialer := newFakeDialer()
	driver := newTestDriver(dialer, NewTaskStore())
	req := scenarioRequest(t)
	req.OSFamily = "Amazon Linux 2"

	require.NoError(t, driver.Run(context.Background(), req))
	for _, rec := range dialer.dials {
		assert.Equal(t, "ec2-user", rec.user)
	}
	assert.Contains(t, string(dialer.session("10.0.0.1").files[stagedConfigPath]), "dbPath: /var/lib/mongo\n")
}

func TestInstallationDriverMissingKeyFile(t *testing.T) {
	dialer := newFakeDialer()
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)
	require.NoError(t, os.Remove(req.KeyPath))

	err := driver.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Empty(t, dialer.dialedHosts())
	assert.Equal(t, domain.TaskStatusError, store.Get("t1").Status)
}

func TestInstallationDriverCancel(t *testing.T) {
	dialer := newFakeDialer()
	started := make(chan struct{})
	dialer.session("10.0.0.1").respond = func(ctx context.Context, directive string) (domain.CommandResult, error) {
		if strings.Contains(directive, "install -y mongodb-org=") {
			close(started)
			<-ctx.Done()
			return domain.CommandResult{}, ctx.Err()
		}
		return successResponse(directive), nil
	}
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	_, err := driver.Start(req)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("install step never started")
	}
	assert.Equal(t, domain.TaskStatusInstalling, store.Get("t1").Status)
	assert.True(t, driver.Cancel("t1"))
	driver.Wait()

	record := store.Get("t1")
	assert.Equal(t, domain.TaskStatusError, record.Status)
	assert.Contains(t, record.Message, "task cancelled")
	assert.False(t, driver.Cancel("t1"))
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverShutdownCancelsRunning(t *testing.T) {
	dialer := newFakeDialer()
	started := make(chan struct{})
	dialer.session("10.0.0.1").respond = func(ctx context.Context, directive string) (domain.CommandResult, error) {
		if strings.Contains(directive, "systemctl stop") {
			close(started)
			<-ctx.Done()
			return domain.CommandResult{}, ctx.Err()
		}
		return successResponse(directive), nil
	}
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)

	_, err := driver.Start(scenarioRequest(t))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, driver.Shutdown(ctx))
	assert.Equal(t, domain.TaskStatusError, store.Get("t1").Status)
}

func TestInstallationDriverRejectsStartAfterShutdown(t *testing.T) {
	dialer := newFakeDialer()
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)

	require.NoError(t, driver.Shutdown(context.Background()))

	_, err := driver.Start(scenarioRequest(t))
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, domain.TaskStatusNotFound, store.Get("t1").Status)
	assert.Empty(t, dialer.dialedHosts())
}

func TestInstallationDriverStartRacingShutdown(t *testing.T) {
	dialer := newFakeDialer()
	driver := newTestDriver(dialer, NewTaskStore())

	requests := make([]domain.InstallRequest, 20)
	for i := range requests {
		requests[i] = scenarioRequest(t)
		requests[i].TaskID = NewTaskID()
	}

	var wg sync.WaitGroup
	for _, req := range requests {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = driver.Start(req)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, driver.Shutdown(ctx))
	wg.Wait()

	_, err := driver.Start(scenarioRequest(t))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestInstallationDriverRecoversPanic(t *testing.T) {
	dialer := newFakeDialer()
	dialer.session("10.0.0.1").respond = func(context.Context, string) (domain.CommandResult, error) {
		panic("unexpected nil")
	}
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)
	req := scenarioRequest(t)

	err := driver.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, store.Get("t1").Message, "installation panic")
	assert.Equal(t, 1, dialer.session("10.0.0.1").closeCount())
	assertKeyRemoved(t, req.KeyPath)
}

func TestInstallationDriverStartRejectsInvalidRequest(t *testing.T) {
	store := NewTaskStore()
	driver := newTestDriver(newFakeDialer(), store)
	req := scenarioRequest(t)
	req.SecondaryIP = "not-an-ip"

	_, err := driver.Start(req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, domain.TaskStatusNotFound, store.Get("t1").Status)
}

func TestInstallationDriverGeneratesTaskID(t *testing.T) {
	driver := newTestDriver(newFakeDialer(), NewTaskStore())
	req := scenarioRequest(t)
	req.TaskID = ""

	taskID, err := driver.Start(req)
	require.NoError(t, err)
	driver.Wait()

	assert.True(t, strings.HasPrefix(taskID, "task_"), taskID)
	assert.Len(t, taskID, len("task_")+32)
	assert.Equal(t, domain.TaskStatusCompleted, driver.Status(taskID).Status)
}

func TestInstallationDriverConcurrentTasks(t *testing.T) {
	dialer := newFakeDialer()
	store := NewTaskStore()
	driver := newTestDriver(dialer, store)

	const tasks = 8
	for i := 0; i < tasks; i++ {
		req := scenarioRequest(t)
		req.TaskID = fmt.Sprintf("t%d", i)
		req.PrimaryIP = fmt.Sprintf("10.0.%d.1", i)
		req.SecondaryIP = fmt.Sprintf("10.0.%d.2", i)
		if i%2 == 1 {
			dialer.session(req.SecondaryIP).respond = failWhen("rs.add", "not primary")
		}
		_, err := driver.Start(req)
		require.NoError(t, err)
	}
	driver.Wait()

	for i := 0; i < tasks; i++ {
		record := store.Get(fmt.Sprintf("t%d", i))
		if i%2 == 1 {
			assert.Equal(t, domain.TaskStatusError, record.Status)
			assert.Contains(t, record.Message, "secondary join failed")
		} else {
			assert.Equal(t, domain.TaskStatusCompleted, record.Status)
		}
	}
}

func TestInstallationDriverRecordsTimeline(t *testing.T) {
	log := logger.NewNop()
	executor := NewCommandExecutor(log)
	timeline := &recordingTimeline{}
	driver := NewInstallationDriver(InstallationDriverConfig{
		Store:        NewTaskStore(),
		Dialer:       newFakeDialer(),
		Executor:     executor,
		Bootstrapper: NewReplicaBootstrapper(executor, log, testReadiness()),
		TimelineRepo: timeline,
		Logger:       log,
	})

	require.NoError(t, driver.Run(context.Background(), scenarioRequest(t)))
	assert.Equal(t, []string{
		domain.EventTypeInstallStart,
		domain.EventTypePrimaryInstall,
		domain.EventTypePrimaryBootstrap,
		domain.EventTypeSecondaryInstall,
		domain.EventTypeSecondaryJoin,
		domain.EventTypeReplicaVerify,
		domain.EventTypeInstallDone,
	}, timeline.types("t1"))
}

func TestInstallationDriverTimelineFailureIsNotFatal(t *testing.T) {
	log := logger.NewNop()
	executor := NewCommandExecutor(log)
	store := NewTaskStore()
	driver := NewInstallationDriver(InstallationDriverConfig{
		Store:        store,
		Dialer:       newFakeDialer(),
		Executor:     executor,
		Bootstrapper: NewReplicaBootstrapper(executor, log, testReadiness()),
		TimelineRepo: &recordingTimeline{err: errors.New("db down")},
		Logger:       log,
	})

	require.NoError(t, driver.Run(context.Background(), scenarioRequest(t)))
	assert.Equal(t, domain.TaskStatusCompleted, store.Get("t1").Status)
}
