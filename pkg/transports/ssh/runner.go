package ssh

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openqembed/openqembed/pkg/queue"
)

// StartRunner launches a solver runner on the remote host and connects to
// it over the session's stdio. The returned stop function tears down both
// the protocol session and the SSH session; the Remote must not be used
// after stop.
func (c *SSHClient) StartRunner(ctx context.Context, command []string) (*queue.Remote, func() error, error) {
	if len(command) == 0 {
		return nil, nil, &TransportError{
			Op:  "start-runner",
			Err: fmt.Errorf("runner command is empty"),
		}
	}

	sshClient, err := c.getClient()
	if err != nil {
		return nil, nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("failed to open stdin pipe: %w", err),
			IsTemporary: true,
		}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("failed to open stdout pipe: %w", err),
			IsTemporary: true,
		}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("failed to open stderr pipe: %w", err),
			IsTemporary: true,
		}
	}

	cmd := shellJoin(command)
	log.Debug().Str("command", cmd).Str("host", c.config.Host).Msg("starting runner")

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("failed to start runner: %w", err),
			IsTemporary: true,
		}
	}

	// Runner diagnostics go to its stderr; surface them in our logs.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("host", c.config.Host).Msg("runner: " + scanner.Text())
		}
	}()

	remote, err := queue.Connect(stdout, stdin)
	if err != nil {
		_ = session.Close()
		return nil, nil, &TransportError{
			Op:          "start-runner",
			Err:         fmt.Errorf("runner handshake failed: %w", err),
			IsTemporary: true,
		}
	}

	log.Info().
		Str("host", c.config.Host).
		Str("backend", remote.Runner().Backend).
		Msg("runner started")

	stop := func() error {
		closeErr := remote.Close()
		waitErr := session.Wait()
		_ = session.Close()
		if closeErr != nil {
			return closeErr
		}
		return waitErr
	}
	return remote, stop, nil
}

// shellJoin quotes a command vector for the remote shell.
func shellJoin(command []string) string {
	parts := make([]string, len(command))
	for i, arg := range command {
		if arg == "" || strings.ContainsAny(arg, " \t\"'$`\\*?[]{}()<>|&;~#") {
			parts[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		} else {
			parts[i] = arg
		}
	}
	return strings.Join(parts, " ")
}
