package ports

import (
	"context"
	"os"

	"github.com/replforge/backend/internal/domain"
)

// RemoteSession is one authenticated channel to a host.
// Run reports a nonzero remote exit through CommandResult.ExitStatus;
// the error return is reserved for transport failures.
type RemoteSession interface {
	Run(ctx context.Context, directive string) (domain.CommandResult, error)
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error
	Close() error
}

type RemoteDialer interface {
	Dial(ctx context.Context, node domain.Node, privateKey []byte) (RemoteSession, error)
}
