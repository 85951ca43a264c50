// Package ssh launches and supplies solver runners on remote hosts. It
// pairs with pkg/queue: a runner process started over an SSH session speaks
// the runner protocol on its stdio, and the session's pipes become the
// queue.Remote byte stream.
package ssh

import (
	"context"
	"time"
)

// Transport is the remote-host surface the runner launcher needs: command
// execution for host checks and setup, file transfer for deploying runner
// binaries and plugins, and lifecycle management.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected reports whether the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is alive and responsive.
	HealthCheck(ctx context.Context) error

	// Execute runs a command on the remote host.
	Execute(ctx context.Context, cmd string) (*ExecResult, error)

	// UploadFile uploads a single file via SFTP with the given mode.
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error

	// DownloadFile downloads a single file via SFTP.
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// ComputeChecksum returns the SHA256 checksum of a remote file.
	ComputeChecksum(ctx context.Context, remotePath string) (string, error)

	// GetConnectionInfo returns details about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	// Stdout is the standard output, trailing whitespace trimmed
	Stdout string

	// Stderr is the standard error output, trailing whitespace trimmed
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// Duration is the total execution time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
