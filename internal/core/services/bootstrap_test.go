package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/replforge/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func primaryTarget() BootstrapTarget {
	return BootstrapTarget{Role: domain.NodeRolePrimary, PrimaryIP: "10.0.0.1", SecondaryIP: "10.0.0.2", DataPath: "/var/lib/mongodb"}
}

func secondaryTarget() BootstrapTarget {
	target := primaryTarget()
	target.Role = domain.NodeRoleSecondary
	return target
}

func TestBootstrapVisitsStatesInOrder(t *testing.T) {
	for _, target := range []BootstrapTarget{primaryTarget(), secondaryTarget()} {
		t.Run(string(target.Role), func(t *testing.T) {
			var states []BootstrapState
			observe := func(role domain.NodeRole, state BootstrapState) {
				assert.Equal(t, target.Role, role)
				states = append(states, state)
			}

			err := newTestBootstrapper().Bootstrap(context.Background(), newFakeSession("h"), target, observe)
			require.NoError(t, err)
			assert.Equal(t, []BootstrapState{
				StateServiceStopped,
				StateConfigBackedUp,
				StateConfigRewritten,
				StateServiceStarted,
				StateServiceEnabled,
				StateReadyWaitElapsed,
				StateShellCapabilityDetected,
				StateRoleAction,
				StateDone,
			}, states)
		})
	}
}

func TestBootstrapPrimaryCommands(t *testing.T) {
	session := newFakeSession("10.0.0.1")
	require.NoError(t, newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), nil))

	cmds := session.Commands()
	assert.Equal(t, "sudo systemctl stop mongod", cmds[0])
	assert.Equal(t, "sudo cp -p /etc/mongod.conf /etc/mongod.conf.backup", cmds[1])
	assert.Equal(t, "upload "+stagedConfigPath, cmds[2])
	assert.Contains(t, cmds[3], "sudo mv -f /etc/mongod.conf.new /etc/mongod.conf")
	assert.Equal(t, "sudo systemctl start mongod", cmds[4])
	assert.Equal(t, "sudo systemctl enable mongod", cmds[5])

	last := cmds[len(cmds)-1]
	assert.True(t, strings.HasPrefix(last, "mongosh --quiet --eval "), last)
	assert.Contains(t, last, `rs.initiate({_id: "rs0", members: [{_id: 0, host: "10.0.0.1:27017", priority: 2}]})`)

	assert.False(t, session.ran("rs.add"), "primary must never issue a join")
}

func TestBootstrapSecondaryCommands(t *testing.T) {
	session := newFakeSession("10.0.0.2")
	require.NoError(t, newTestBootstrapper().Bootstrap(context.Background(), session, secondaryTarget(), nil))

	last := session.Commands()[len(session.Commands())-1]
	assert.Contains(t, last, "mongosh --host 10.0.0.1:27017 --quiet --eval")
	assert.Contains(t, last, `rs.add("10.0.0.2:27017")`)
	assert.True(t, session.ran("db.isMaster().ismaster"))
	assert.False(t, session.ran("rs.initiate"), "secondary must never initiate")
}

func TestBootstrapConfigTemplateIdenticalForBothRoles(t *testing.T) {
	primary := newFakeSession("10.0.0.1")
	secondary := newFakeSession("10.0.0.2")
	b := newTestBootstrapper()
	require.NoError(t, b.Bootstrap(context.Background(), primary, primaryTarget(), nil))
	require.NoError(t, b.Bootstrap(context.Background(), secondary, secondaryTarget(), nil))

	conf := string(primary.files[stagedConfigPath])
	assert.Equal(t, conf, string(secondary.files[stagedConfigPath]))
	assert.Contains(t, conf, "dbPath: /var/lib/mongodb")
	assert.Contains(t, conf, "path: /var/log/mongodb/mongod.log")
	assert.Contains(t, conf, "port: 27017")
	assert.Contains(t, conf, "bindIp: 0.0.0.0")
	assert.Contains(t, conf, `replSetName: "rs0"`)
}

func TestBootstrapFallsBackToLegacyShell(t *testing.T) {
	session := newFakeSession("10.0.0.1")
	session.respond = failWhen("command -v mongosh", "")

	require.NoError(t, newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), nil))

	last := session.Commands()[len(session.Commands())-1]
	assert.True(t, strings.HasPrefix(last, "mongo --quiet --eval "), last)
}

func TestBootstrapPrimaryInitResponse(t *testing.T) {
	tests := []struct {
		name    string
		result  domain.CommandResult
		wantErr bool
	}{
		{"lowercase ok", domain.CommandResult{Stdout: "{ ok: 1 }"}, false},
		{"uppercase ok", domain.CommandResult{Stdout: `{ "OK" : 1 }`}, false},
		{"missing marker", domain.CommandResult{Stdout: "MongoServerError: already initialized"}, true},
		{"nonzero exit", domain.CommandResult{ExitStatus: 1, Stderr: "connect ECONNREFUSED"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession("10.0.0.1")
			session.respond = func(_ context.Context, directive string) (domain.CommandResult, error) {
				if strings.Contains(directive, "rs.initiate") {
					return tt.result, nil
				}
				return successResponse(directive), nil
			}

			err := newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), nil)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrReplicaSetInitFailed)
			var adminErr *AdminResponseError
			require.True(t, errors.As(err, &adminErr))
			assert.NotEmpty(t, adminErr.Output)
		})
	}
}

func TestBootstrapSecondaryJoinWithoutMarker(t *testing.T) {
	session := newFakeSession("10.0.0.2")
	session.respond = func(_ context.Context, directive string) (domain.CommandResult, error) {
		if strings.Contains(directive, "rs.add") {
			return domain.CommandResult{Stdout: "MongoServerError: not primary"}, nil
		}
		return successResponse(directive), nil
	}

	err := newTestBootstrapper().Bootstrap(context.Background(), session, secondaryTarget(), nil)
	require.ErrorIs(t, err, ErrSecondaryJoinFailed)
	assert.Contains(t, err.Error(), "not primary")
}

func TestBootstrapSecondaryWaitsForWritablePrimary(t *testing.T) {
	var probes atomic.Int32
	session := newFakeSession("10.0.0.2")
	session.respond = func(_ context.Context, directive string) (domain.CommandResult, error) {
		if strings.Contains(directive, "isMaster") {
			if probes.Add(1) < 3 {
				return domain.CommandResult{Stdout: "false"}, nil
			}
		}
		return successResponse(directive), nil
	}

	require.NoError(t, newTestBootstrapper().Bootstrap(context.Background(), session, secondaryTarget(), nil))
	assert.GreaterOrEqual(t, probes.Load(), int32(3))
	assert.True(t, session.ran("rs.add"))
}

func TestBootstrapSecondaryPrimaryNeverWritable(t *testing.T) {
	session := newFakeSession("10.0.0.2")
	session.respond = func(_ context.Context, directive string) (domain.CommandResult, error) {
		if strings.Contains(directive, "isMaster") {
			return domain.CommandResult{Stdout: "false"}, nil
		}
		return successResponse(directive), nil
	}

	err := newTestBootstrapper().Bootstrap(context.Background(), session, secondaryTarget(), nil)
	require.ErrorIs(t, err, ErrReadinessTimeout)
	assert.False(t, session.ran("rs.add"))
}

func TestBootstrapReadinessTimeout(t *testing.T) {
	session := newFakeSession("10.0.0.1")
	session.respond = failWhen("is-active", "inactive")

	var reached []BootstrapState
	err := newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), func(_ domain.NodeRole, s BootstrapState) {
		reached = append(reached, s)
	})
	require.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Equal(t, StateServiceEnabled, reached[len(reached)-1])
	assert.False(t, session.ran("rs.initiate"))
}

func TestBootstrapAbortsOnCommandFailure(t *testing.T) {
	session := newFakeSession("10.0.0.1")
	session.respond = failWhen("systemctl stop", "Failed to stop mongod.service")

	err := newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), nil)
	require.ErrorIs(t, err, ErrRemoteCommandFailed)
	assert.Equal(t, []string{"sudo systemctl stop mongod"}, session.Commands())
}

func TestBootstrapUploadFailure(t *testing.T) {
	session := newFakeSession("10.0.0.1")
	session.writeErr = errors.New("sftp: permission denied")

	err := newTestBootstrapper().Bootstrap(context.Background(), session, primaryTarget(), nil)
	require.ErrorIs(t, err, ErrRemoteCommandFailed)
	assert.False(t, session.ran("systemctl start"))
}

func TestVerifyReplicaSet(t *testing.T) {
	session := newFakeSession("10.0.0.2")
	out, err := newTestBootstrapper().VerifyReplicaSet(context.Background(), session, "10.0.0.2", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "rs0")
	assert.True(t, session.ran("--host 10.0.0.1:27017 --quiet --eval 'rs.status()'"))
}

func TestBootstrapStateString(t *testing.T) {
	assert.Equal(t, "ServiceStopped", StateServiceStopped.String())
	assert.Equal(t, "Done", StateDone.String())
	assert.Equal(t, "BootstrapState(42)", BootstrapState(42).String())
}
