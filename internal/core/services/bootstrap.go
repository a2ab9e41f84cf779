package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/infrastructure/logger"
)

// BootstrapState is a step of the per-node bootstrap. States are visited in
// declaration order and never revisited.
type BootstrapState int

const (
	StateServiceStopped BootstrapState = iota
	StateConfigBackedUp
	StateConfigRewritten
	StateServiceStarted
	StateServiceEnabled
	StateReadyWaitElapsed
	StateShellCapabilityDetected
	StateRoleAction
	StateDone
)

var bootstrapStateNames = [...]string{
	"ServiceStopped",
	"ConfigBackedUp",
	"ConfigRewritten",
	"ServiceStarted",
	"ServiceEnabled",
	"ReadyWaitElapsed",
	"ShellCapabilityDetected",
	"RoleAction",
	"Done",
}

func (s BootstrapState) String() string {
	if s < 0 || int(s) >= len(bootstrapStateNames) {
		return fmt.Sprintf("BootstrapState(%d)", int(s))
	}
	return bootstrapStateNames[s]
}

// StateObserver is told about every state a bootstrap reaches.
type StateObserver func(role domain.NodeRole, state BootstrapState)

// ReadinessConfig bounds the probe loops that stand in for fixed sleeps.
type ReadinessConfig struct {
	PollInterval       time.Duration
	ReadyTimeout       time.Duration
	PrimaryWaitTimeout time.Duration
}

// BootstrapTarget describes the node being configured and its peer.
type BootstrapTarget struct {
	Role        domain.NodeRole
	PrimaryIP   string
	SecondaryIP string
	DataPath    string
}

func (t BootstrapTarget) host() string {
	if t.Role == domain.NodeRoleSecondary {
		return t.SecondaryIP
	}
	return t.PrimaryIP
}

const mongodConfigTemplate = `# Where and how to store data.
storage:
  dbPath: %s

# where to write logging data.
systemLog:
  destination: file
  logAppend: true
  path: /var/log/mongodb/mongod.log

# how the process runs
processManagement:
  timeZoneInfo: /usr/share/zoneinfo

# network interfaces
net:
  port: %d
  bindIp: 0.0.0.0

replication:
  replSetName: "%s"
`

// MongodConfig renders the configuration every replica member receives.
func MongodConfig(dataPath string) []byte {
	return []byte(fmt.Sprintf(mongodConfigTemplate, dataPath, domain.MongoPort, domain.ReplicaSetName))
}

const stagedConfigPath = "/tmp/mongod.conf.replforge"

// ReplicaBootstrapper configures mongod on one node and performs the
// primary-initiate or secondary-join action. Nothing it applies is rolled
// back on failure; the config backup is the only safety net.
type ReplicaBootstrapper struct {
	executor  *CommandExecutor
	logger    *logger.Logger
	readiness ReadinessConfig
}

func NewReplicaBootstrapper(executor *CommandExecutor, log *logger.Logger, readiness ReadinessConfig) *ReplicaBootstrapper {
	if readiness.PollInterval == 0 {
		readiness.PollInterval = time.Second
	}
	if readiness.ReadyTimeout == 0 {
		readiness.ReadyTimeout = 2 * time.Minute
	}
	if readiness.PrimaryWaitTimeout == 0 {
		readiness.PrimaryWaitTimeout = 2 * time.Minute
	}
	return &ReplicaBootstrapper{
		executor:  executor,
		logger:    log,
		readiness: readiness,
	}
}

func (b *ReplicaBootstrapper) Bootstrap(ctx context.Context, session ports.RemoteSession, target BootstrapTarget, observe StateObserver) error {
	if observe == nil {
		observe = func(domain.NodeRole, BootstrapState) {}
	}
	host := target.host()
	shell := domain.ModernShellBinary

	run := func(name, directive string) func() error {
		return func() error {
			_, err := b.executor.Run(ctx, session, host, domain.Command{Name: name, Directive: directive})
			return err
		}
	}

	steps := []struct {
		state BootstrapState
		run   func() error
	}{
		{StateServiceStopped, run("stop-service", sudo("systemctl", "stop", domain.MongoServiceName))},
		{StateConfigBackedUp, run("backup-config", sudo("cp", "-p", domain.MongoConfigPath, domain.MongoBackupPath))},
		{StateConfigRewritten, func() error { return b.rewriteConfig(ctx, session, host, target.DataPath) }},
		{StateServiceStarted, run("start-service", sudo("systemctl", "start", domain.MongoServiceName))},
		{StateServiceEnabled, run("enable-service", sudo("systemctl", "enable", domain.MongoServiceName))},
		{StateReadyWaitElapsed, func() error { return b.waitForLocalService(ctx, session, host) }},
		{StateShellCapabilityDetected, func() error {
			detected, err := b.detectShell(ctx, session, host)
			shell = detected
			return err
		}},
		{StateRoleAction, func() error { return b.roleAction(ctx, session, target, shell) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			b.logger.Errorw("bootstrap_step_failed", "host", host, "role", target.Role, "state", step.state.String(), "error", err)
			return err
		}
		b.logger.Infow("bootstrap_step_ok", "host", host, "role", target.Role, "state", step.state.String())
		observe(target.Role, step.state)
	}

	observe(target.Role, StateDone)
	return nil
}

// rewriteConfig stages the template over SFTP and renames it into place on
// the same filesystem as the target so the replacement is atomic.
func (b *ReplicaBootstrapper) rewriteConfig(ctx context.Context, session ports.RemoteSession, host, dataPath string) error {
	if dataPath == "" {
		dataPath = "/var/lib/mongodb"
	}
	if err := session.WriteFile(ctx, stagedConfigPath, MongodConfig(dataPath), 0o644); err != nil {
		return &RemoteCommandError{Host: host, Directive: "upload " + stagedConfigPath, ExitStatus: -1, Err: err}
	}

	next := domain.MongoConfigPath + ".new"
	directive := allOf(
		sudo("cp", stagedConfigPath, next),
		sudo("chmod", "0644", next),
		sudo("mv", "-f", next, domain.MongoConfigPath),
		shellCommand("rm", "-f", stagedConfigPath),
	)
	_, err := b.executor.Run(ctx, session, host, domain.Command{Name: "replace-config", Directive: directive})
	return err
}

var localReadinessProbe = allOf(
	sudo("systemctl", "is-active", "--quiet", domain.MongoServiceName),
	shellCommand("timeout", "2", "bash", "-c", fmt.Sprintf("</dev/tcp/127.0.0.1/%d", domain.MongoPort)),
)

func (b *ReplicaBootstrapper) waitForLocalService(ctx context.Context, session ports.RemoteSession, host string) error {
	return b.poll(ctx, "mongod listening on "+host, b.readiness.ReadyTimeout, func() (bool, error) {
		result, err := session.Run(ctx, localReadinessProbe)
		if err != nil {
			return false, err
		}
		return result.Succeeded(), nil
	})
}

func (b *ReplicaBootstrapper) waitForWritablePrimary(ctx context.Context, session ports.RemoteSession, shell, primaryIP string) error {
	probe := shellCommand(shell, "--host", domain.MemberHost(primaryIP), "--quiet", "--eval", "db.isMaster().ismaster")
	return b.poll(ctx, "primary "+primaryIP+" writable", b.readiness.PrimaryWaitTimeout, func() (bool, error) {
		result, err := session.Run(ctx, probe)
		if err != nil {
			return false, err
		}
		return result.Succeeded() && strings.Contains(strings.ToLower(result.Stdout), "true"), nil
	})
}

// poll repeats probe with exponential backoff until it reports ready, returns
// an error, or timeout elapses.
func (b *ReplicaBootstrapper) poll(ctx context.Context, what string, timeout time.Duration, probe func() (bool, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.readiness.PollInterval
	policy.MaxInterval = 8 * b.readiness.PollInterval
	policy.MaxElapsedTime = timeout

	var fatal error
	attempts := 0
	operation := func() error {
		attempts++
		ready, err := probe()
		if err != nil {
			fatal = err
			return backoff.Permanent(err)
		}
		if !ready {
			return errNotReady
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		b.logger.Infow("readiness_ok", "target", what, "attempts", attempts)
		return nil
	case fatal != nil:
		return fatal
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s not reached within %s (%d attempts)", ErrReadinessTimeout, what, timeout, attempts)
	}
}

var errNotReady = errors.New("not ready")

func (b *ReplicaBootstrapper) detectShell(ctx context.Context, session ports.RemoteSession, host string) (string, error) {
	result, err := session.Run(ctx, shellCommand("command", "-v", domain.ModernShellBinary))
	if err != nil {
		return "", &RemoteCommandError{Host: host, Directive: "command -v " + domain.ModernShellBinary, ExitStatus: -1, Err: err}
	}
	if result.Succeeded() {
		return domain.ModernShellBinary, nil
	}
	b.logger.Infow("modern_shell_missing", "host", host, "fallback", domain.LegacyShellBinary)
	return domain.LegacyShellBinary, nil
}

func (b *ReplicaBootstrapper) roleAction(ctx context.Context, session ports.RemoteSession, target BootstrapTarget, shell string) error {
	switch target.Role {
	case domain.NodeRolePrimary:
		return b.initiate(ctx, session, shell, target.PrimaryIP)
	case domain.NodeRoleSecondary:
		if err := b.waitForWritablePrimary(ctx, session, shell, target.PrimaryIP); err != nil {
			return err
		}
		return b.join(ctx, session, shell, target.PrimaryIP, target.SecondaryIP)
	default:
		return fmt.Errorf("bootstrap: unknown node role %q", target.Role)
	}
}

// InitiateExpression founds the replica set with the primary as its only
// member, weighted to win elections.
func InitiateExpression(primaryIP string) string {
	return fmt.Sprintf(`rs.initiate({_id: "%s", members: [{_id: 0, host: "%s", priority: 2}]})`,
		domain.ReplicaSetName, domain.MemberHost(primaryIP))
}

func AddMemberExpression(secondaryIP string) string {
	return fmt.Sprintf(`rs.add("%s")`, domain.MemberHost(secondaryIP))
}

func (b *ReplicaBootstrapper) initiate(ctx context.Context, session ports.RemoteSession, shell, primaryIP string) error {
	directive := shellCommand(shell, "--quiet", "--eval", InitiateExpression(primaryIP))
	return b.adminCall(ctx, session, primaryIP, directive, ErrReplicaSetInitFailed)
}

func (b *ReplicaBootstrapper) join(ctx context.Context, session ports.RemoteSession, shell, primaryIP, secondaryIP string) error {
	directive := shellCommand(shell, "--host", domain.MemberHost(primaryIP), "--quiet", "--eval", AddMemberExpression(secondaryIP))
	return b.adminCall(ctx, session, secondaryIP, directive, ErrSecondaryJoinFailed)
}

// adminCall runs an administrative expression whose output must carry an
// "ok" marker, compared case-insensitively.
func (b *ReplicaBootstrapper) adminCall(ctx context.Context, session ports.RemoteSession, host, directive string, kind error) error {
	result, err := session.Run(ctx, directive)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RemoteCommandError{Host: host, Directive: directive, ExitStatus: -1, Stderr: result.Stderr, Err: err}
	}

	output := strings.TrimSpace(result.Stdout)
	if !result.Succeeded() {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = output
		}
		return &AdminResponseError{Kind: kind, Output: detail}
	}
	if !strings.Contains(strings.ToLower(output), "ok") {
		return &AdminResponseError{Kind: kind, Output: output}
	}
	b.logger.Infow("admin_command_ok", "host", host, "output", output)
	return nil
}

// VerifyReplicaSet reads rs.status() from the primary. The caller treats the
// outcome as informational only.
func (b *ReplicaBootstrapper) VerifyReplicaSet(ctx context.Context, session ports.RemoteSession, host, primaryIP string) (string, error) {
	shell, err := b.detectShell(ctx, session, host)
	if err != nil {
		return "", err
	}
	directive := shellCommand(shell, "--host", domain.MemberHost(primaryIP), "--quiet", "--eval", "rs.status()")
	result, err := b.executor.Run(ctx, session, host, domain.Command{Name: "verify-replica-set", Directive: directive})
	return strings.TrimSpace(result.Stdout), err
}
