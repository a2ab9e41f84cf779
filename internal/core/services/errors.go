package services

import (
	"errors"
	"fmt"
)

// Plan errors
var (
	ErrUnsupportedPlatform = errors.New("plan: unsupported OS type")
	ErrUnsupportedVersion  = errors.New("plan: unsupported MongoDB version")
)

// Remote errors
var (
	ErrConnectionFailed    = errors.New("remote: connection failed")
	ErrRemoteCommandFailed = errors.New("remote: command failed")
)

// Bootstrap errors
var (
	ErrReplicaSetInitFailed = errors.New("bootstrap: replica set initialization failed")
	ErrSecondaryJoinFailed  = errors.New("bootstrap: secondary join failed")
	ErrReadinessTimeout     = errors.New("bootstrap: service did not become ready")
)

// Installation errors
var (
	ErrInvalidRequest = errors.New("installer: invalid request")
	ErrTaskCancelled  = errors.New("installer: task cancelled")
	ErrShuttingDown   = errors.New("installer: shutting down")
)

// Key file errors
var (
	ErrKeyFileMissing  = errors.New("keyfile: no key file provided")
	ErrKeyFileInvalid  = errors.New("keyfile: invalid key file format, must be .pem")
	ErrKeyFileTooLarge = errors.New("keyfile: key file too large")
)

// RemoteCommandError reports a directive that exited nonzero or could not be
// run at all.
type RemoteCommandError struct {
	Host       string
	Directive  string
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *RemoteCommandError) Error() string {
	detail := e.Stderr
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Host != "" {
		return fmt.Sprintf("failed to execute on %s: %s (exit status %d): %s", e.Host, e.Directive, e.ExitStatus, detail)
	}
	return fmt.Sprintf("failed to execute: %s (exit status %d): %s", e.Directive, e.ExitStatus, detail)
}

func (e *RemoteCommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemoteCommandFailed, e.Err}
	}
	return []error{ErrRemoteCommandFailed}
}

// AdminResponseError reports an administrative shell call whose response did
// not carry the success marker.
type AdminResponseError struct {
	Kind   error
	Output string
}

func (e *AdminResponseError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Output)
}

func (e *AdminResponseError) Unwrap() error {
	return e.Kind
}
