package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"sshpublish/pkg/config"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// SFTPConn is a *sftp.Client together with the SSH connection carrying it.
type SFTPConn struct {
	sync.Mutex
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	closed     bool
}

// NewSFTPConn pairs an established SSH connection with the SFTP session
// running over it. Closing the SFTPConn closes both.
func NewSFTPConn(client *ssh.Client, sftpClient *sftp.Client) *SFTPConn {
	return &SFTPConn{
		sshConn:    client,
		sftpClient: sftpClient,
	}
}

// GetClient returns the underlying *sftp.Client
func (s *SFTPConn) GetClient() *sftp.Client {
	s.Lock()
	defer s.Unlock()
	return s.sftpClient
}

// Close closes the underlying connections
func (s *SFTPConn) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return fmt.Errorf("connection was already closed")
	}

	s.closed = true
	if s.sftpClient != nil {
		_ = s.sftpClient.Close()
	}
	if s.sshConn != nil {
		return s.sshConn.Close()
	}
	return nil
}

// createSSHConfig builds the client configuration for a server. A literal
// private key wins over a key file, which wins over a password.
func createSSHConfig(server *config.ServerConfig) (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:            server.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         server.Timeout(),
	}

	keyMaterial := []byte(server.PrivateKey)
	if len(keyMaterial) == 0 && server.PrivateKeyPath != "" {
		keyPath, err := homedir.Expand(server.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("expand private key path: %w", err)
		}
		keyMaterial, err = afero.ReadFile(fs, keyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}

	switch {
	case len(keyMaterial) > 0:
		key, err := ssh.ParsePrivateKey(keyMaterial)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(key)}
	case server.Password != "":
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(server.Password)}
	default:
		return nil, fmt.Errorf("either password or private key must be provided")
	}

	return sshConfig, nil
}

// dialSFTP establishes SSH and SFTP connections
func dialSFTP(ctx context.Context, server *config.ServerConfig) (*SFTPConn, error) {
	sshConfig, err := createSSHConfig(server)
	if err != nil {
		return nil, &StorageError{Type: ErrorTypeInvalidInput, Message: "invalid ssh credentials", Cause: err}
	}

	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	conn, err := dialSSH(ctx, addr, sshConfig)
	if err != nil {
		return nil, &StorageError{Type: ErrorTypeNetworkError, Message: fmt.Sprintf("failed to dial ssh %s", addr), Cause: err}
	}

	sftpConn, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, &StorageError{Type: ErrorTypeInternal, Message: "failed to initialize sftp subsystem", Cause: err}
	}

	return NewSFTPConn(conn, sftpConn), nil
}

// dialSSH runs the SSH handshake over a TCP connection and gives up as soon
// as ctx is done. The TCP connection is closed on every failure path.
func dialSSH(ctx context.Context, addr string, sshConfig *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case h := <-done:
		if h.err != nil {
			_ = conn.Close()
		}
		return h.client, h.err
	case <-ctx.Done():
		_ = conn.Close()
		// reap the handshake goroutine's client if it won the race
		if h := <-done; h.client != nil {
			_ = h.client.Close()
		}
		return nil, context.Cause(ctx)
	}
}
