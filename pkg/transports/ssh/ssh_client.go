package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SSHClient implements Transport over golang.org/x/crypto/ssh.
type SSHClient struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time
}

var _ Transport = (*SSHClient)(nil)

// NewSSHClient creates a new SSH transport client.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SSHClient{config: config}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		// Already connected, verify connection is still alive
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		// Connection is dead, close it and reconnect
		log.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
		}
	}

	if c.config.IsBastionEnabled() {
		return c.connectViaBastion(ctx, clientConfig)
	}

	return c.connectDirect(ctx, clientConfig)
}

// connectDirect establishes a direct SSH connection.
func (c *SSHClient) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connChan:
		c.adopt(client)
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// connectViaBastion establishes an SSH connection through a login/bastion
// host.
func (c *SSHClient) connectViaBastion(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	bastionConfig := &Config{
		Host:                  c.config.BastionHost,
		Port:                  c.config.BastionPort,
		User:                  c.config.BastionUser,
		AuthMethod:            c.config.BastionAuthMethod,
		Password:              c.config.BastionPassword,
		PrivateKeyPath:        c.config.BastionPrivateKeyPath,
		ConnectionTimeout:     c.config.ConnectionTimeout,
		StrictHostKeyChecking: c.config.StrictHostKeyChecking,
		KnownHostsPath:        c.config.KnownHostsPath,
	}

	bastionClientConfig, err := bastionConfig.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build bastion config: %w", err)
	}

	log.Debug().Str("bastion", bastionConfig.Address()).Msg("connecting to bastion host")

	bastionClient, err := ssh.Dial("tcp", bastionConfig.Address(), bastionClientConfig)
	if err != nil {
		return &TransportError{
			Op:          "connect-bastion",
			Err:         err,
			IsTemporary: true,
		}
	}

	targetAddress := c.config.Address()
	log.Debug().Str("target", targetAddress).Msg("connecting to target through bastion")

	bastionConn, err := bastionClient.Dial("tcp", targetAddress)
	if err != nil {
		_ = bastionClient.Close()
		return &TransportError{
			Op:          "connect-via-bastion",
			Err:         err,
			IsTemporary: true,
		}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(bastionConn, targetAddress, targetConfig)
	if err != nil {
		_ = bastionConn.Close()
		_ = bastionClient.Close()
		return &TransportError{
			Op:          "connect-via-bastion",
			Err:         err,
			IsTemporary: true,
			IsAuthError: true,
		}
	}

	c.adopt(ssh.NewClient(ncc, chans, reqs))
	log.Info().Str("target", targetAddress).Str("bastion", bastionConfig.Address()).Msg("SSH connection established via bastion")
	return nil
}

// adopt installs a freshly dialed client (connMu must be held).
func (c *SSHClient) adopt(client *ssh.Client) {
	c.client = client
	c.isConnected = true
	c.connectedAt = time.Now()
	c.lastUsedAt = time.Now()

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(client)
	}
}

// Disconnect closes the SSH connection and releases all resources.
func (c *SSHClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{
			Op:  "disconnect",
			Err: err,
		}
	}

	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *SSHClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *SSHClient) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{
			Op:  "healthcheck",
			Err: fmt.Errorf("not connected"),
		}
	}

	return c.healthCheckInternal()
}

// healthCheckInternal performs the actual health check (must be called with
// the lock held).
func (c *SSHClient) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}

	return nil
}

// keepAlive sends periodic keep-alive messages for the given client. It
// stops when the client is replaced or the connection drops.
func (c *SSHClient) keepAlive(client *ssh.Client) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	maxRetries := c.config.MaxKeepAliveRetries

	for range ticker.C {
		c.connMu.RLock()
		stale := !c.isConnected || c.client != client
		c.connMu.RUnlock()
		if stale {
			return
		}

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= maxRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
		} else {
			retries = 0
			c.connMu.Lock()
			c.lastUsedAt = time.Now()
			c.connMu.Unlock()
		}
	}
}

// GetConnectionInfo returns information about the current connection.
func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// getClient returns the underlying SSH client for session-based operations.
func (c *SSHClient) getClient() (*ssh.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:  "get-client",
			Err: fmt.Errorf("not connected"),
		}
	}

	c.lastUsedAt = time.Now()
	return c.client, nil
}
