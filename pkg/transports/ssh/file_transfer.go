package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// createSFTPClient opens an SFTP session on the current connection.
func (c *SSHClient) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	return sftpClient, nil
}

// UploadFile uploads a single file to the remote host via SFTP. Parent
// directories are created as needed.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	startTime := time.Now()

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer localFile.Close()

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if dir := filepath.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{
				Op:          "upload",
				Err:         fmt.Errorf("failed to create remote directory %s: %w", dir, err),
				IsTemporary: true,
			}
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	written, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("transfer failed after %d bytes: %w", written, err),
			IsTemporary: true,
		}
	}

	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			return &TransportError{
				Op:          "upload",
				Err:         fmt.Errorf("failed to set mode: %w", err),
				IsTemporary: true,
			}
		}
	}

	log.Debug().
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("upload complete")

	return nil
}

// DownloadFile downloads a single file from the remote host via SFTP.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath string, localPath string) error {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("downloading file")

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &TransportError{
			Op:  "download",
			Err: fmt.Errorf("failed to create local directory: %w", err),
		}
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return &TransportError{
			Op:  "download",
			Err: fmt.Errorf("failed to create local file: %w", err),
		}
	}
	defer localFile.Close()

	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("transfer failed after %d bytes: %w", written, err),
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("download complete")

	return nil
}

// ComputeChecksum returns the SHA256 checksum of a remote file, hashed over
// the SFTP stream so no remote tooling is required.
func (c *SSHClient) ComputeChecksum(ctx context.Context, remotePath string) (string, error) {
	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	h := sha256.New()
	if _, err := copyWithContext(ctx, h, remoteFile); err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         err,
			IsTemporary: true,
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeployRunner uploads a runner binary, makes it executable, and verifies
// the transfer by checksum.
func (c *SSHClient) DeployRunner(ctx context.Context, localBinary string, remotePath string) error {
	if err := c.UploadFile(ctx, localBinary, remotePath, 0755); err != nil {
		return err
	}

	local, err := localChecksum(localBinary)
	if err != nil {
		return &TransportError{
			Op:  "deploy-runner",
			Err: err,
		}
	}
	remote, err := c.ComputeChecksum(ctx, remotePath)
	if err != nil {
		return err
	}
	if local != remote {
		return &TransportError{
			Op:          "deploy-runner",
			Err:         fmt.Errorf("checksum mismatch after upload: %s != %s", local, remote),
			IsTemporary: true,
		}
	}

	log.Info().
		Str("remote", remotePath).
		Str("sha256", remote).
		Msg("runner deployed")
	return nil
}

func localChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyWithContext copies until EOF, aborting between chunks when the
// context is cancelled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if w < n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
