package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/domain"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHSession        = errors.New("ssh: session failed")
	ErrSSHUpload         = errors.New("ssh: upload failed")
)

type SSHConfig struct {
	Port           int
	Timeout        time.Duration
	CommandTimeout time.Duration
}

// Dialer opens one SSH connection per host. It never retries: a failed dial
// is terminal for the calling phase.
type Dialer struct {
	config SSHConfig
}

func NewDialer(cfg SSHConfig) *Dialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Dialer{config: cfg}
}

var _ ports.RemoteDialer = (*Dialer)(nil)

func (d *Dialer) clientConfig(user string, privateKey []byte) (*ssh.ClientConfig, error) {
	if len(privateKey) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrSSHAuthentication, err)
	}

	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Hosts are freshly created; there is no known_hosts entry to check against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.config.Timeout,
	}, nil
}

// Dial connects to node and returns a session usable for sequential commands.
func (d *Dialer) Dial(ctx context.Context, node domain.Node, privateKey []byte) (ports.RemoteSession, error) {
	sshConfig, err := d.clientConfig(node.User, privateKey)
	if err != nil {
		return nil, err
	}

	port := node.SSHPort
	if port == 0 {
		port = d.config.Port
	}
	addr := net.JoinHostPort(node.Address, fmt.Sprint(port))

	dialer := net.Dialer{
		Timeout:   d.config.Timeout,
		KeepAlive: 60 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrSSHConnection, addr, describeDialError(err))
	}

	// Bound the handshake, then clear the deadline for the long-running session.
	_ = conn.SetDeadline(time.Now().Add(d.config.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %v", ErrSSHAuthentication, addr, err)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrSSHConnection, addr, describeDialError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Session{
		client:         ssh.NewClient(c, chans, reqs),
		commandTimeout: d.config.CommandTimeout,
	}, nil
}

func describeDialError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "connection timed out: " + err.Error()
	}
	return err.Error()
}

const drainTimeout = 5 * time.Second

// outputBuffer guards captured output against the session's copy goroutines.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Session wraps one authenticated SSH client. Each Run opens its own channel
// and waits for the remote process to terminate.
type Session struct {
	client         *ssh.Client
	commandTimeout time.Duration
}

var _ ports.RemoteSession = (*Session)(nil)

func (s *Session) Run(ctx context.Context, directive string) (domain.CommandResult, error) {
	if s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	session, err := s.client.NewSession()
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("%w: failed to create session: %v", ErrSSHSession, err)
	}
	defer session.Close()

	var stdout, stderr outputBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(directive)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		// Run returns once the closed channel's output copiers have stopped.
		select {
		case <-done:
		case <-time.After(drainTimeout):
		}
		return domain.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()},
			fmt.Errorf("command cancelled: %w", ctx.Err())
	case runErr := <-done:
		result := domain.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return result, nil
		}

		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("%w: %v", ErrSSHSession, runErr)
	}
}

// WriteFile uploads content over SFTP and applies mode.
func (s *Session) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("%w: failed to create sftp client: %v", ErrSSHUpload, err)
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create remote file %s: %v", ErrSSHUpload, path, err)
	}

	written, err := remoteFile.Write(content)
	if err != nil {
		remoteFile.Close()
		return fmt.Errorf("%w: failed to write %s: %v", ErrSSHUpload, path, err)
	}
	if err := remoteFile.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", ErrSSHUpload, path, err)
	}
	if written != len(content) {
		return fmt.Errorf("%w: upload incomplete: expected %d bytes, got %d", ErrSSHUpload, len(content), written)
	}

	if err := sftpClient.Chmod(path, mode); err != nil {
		return fmt.Errorf("%w: failed to chmod %s: %v", ErrSSHUpload, path, err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.client.Close()
}
