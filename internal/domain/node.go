package domain

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	ReplicaSetName    = "rs0"
	MongoPort         = 27017
	MongoConfigPath   = "/etc/mongod.conf"
	MongoBackupPath   = "/etc/mongod.conf.backup"
	MongoServiceName  = "mongod"
	ModernShellBinary = "mongosh"
	LegacyShellBinary = "mongo"
)

type NodeRole string

const (
	NodeRolePrimary   NodeRole = "primary"
	NodeRoleSecondary NodeRole = "secondary"
)

// Node exists only for the duration of one installation run.
type Node struct {
	Role    NodeRole
	Address string
	User    string
	SSHPort int
}

// MemberHost is the address:port string used in replica-set membership.
func (n Node) MemberHost() string {
	return MemberHost(n.Address)
}

func MemberHost(address string) string {
	return fmt.Sprintf("%s:%d", address, MongoPort)
}

// LoginUserFor derives the login account from the OS family label.
func LoginUserFor(osFamily string) string {
	if strings.Contains(osFamily, "Amazon") || strings.Contains(osFamily, "RHEL") {
		return "ec2-user"
	}
	return "ubuntu"
}

var ErrInvalidInstallRequest = errors.New("install request: invalid input")

// InstallRequest is the validated invocation handed to the driver.
type InstallRequest struct {
	TaskID      string
	PrimaryIP   string
	SecondaryIP string
	OSFamily    string
	Version     string
	KeyPath     string
}

func (r InstallRequest) Validate() error {
	if r.PrimaryIP == "" || r.SecondaryIP == "" {
		return fmt.Errorf("%w: both primary and secondary IP addresses are required", ErrInvalidInstallRequest)
	}
	for _, ip := range []string{r.PrimaryIP, r.SecondaryIP} {
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.To4() == nil {
			return fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidInstallRequest, ip)
		}
	}
	if r.PrimaryIP == r.SecondaryIP {
		return fmt.Errorf("%w: primary and secondary must be different hosts", ErrInvalidInstallRequest)
	}
	if r.OSFamily == "" || r.Version == "" {
		return fmt.Errorf("%w: OS type and MongoDB version must be specified", ErrInvalidInstallRequest)
	}
	if r.KeyPath == "" {
		return fmt.Errorf("%w: key file is required", ErrInvalidInstallRequest)
	}
	return nil
}
