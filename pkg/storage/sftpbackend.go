package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"sshpublish/pkg/config"
	"sshpublish/pkg/lock"
	"sshpublish/pkg/logger"
)

// sftpClient is the subset of *sftp.Client the transport uses.
type sftpClient interface {
	Stat(p string) (os.FileInfo, error)
	Mkdir(path string) error
	OpenFile(path string, f int) (io.WriteCloser, error)
	Close() error
}

type sftpClientAdapter struct {
	*sftp.Client
}

func (a sftpClientAdapter) OpenFile(path string, f int) (io.WriteCloser, error) {
	file, err := a.Client.OpenFile(path, f)
	if err != nil {
		return nil, err
	}
	return file, nil
}

type SFTPTransport struct {
	conn   *SFTPConn
	client sftpClient
	server *config.ServerConfig
	locks  *lock.Striped
}

// DialSFTP connects to an SFTP server.
func DialSFTP(ctx context.Context, server *config.ServerConfig) (*SFTPTransport, error) {
	conn, err := dialSFTP(ctx, server)
	if err != nil {
		return nil, err
	}

	logger.Debug("sftp connection established", map[string]any{
		"host": server.Host,
		"port": server.Port,
	})

	return &SFTPTransport{
		conn:   conn,
		client: sftpClientAdapter{conn.GetClient()},
		server: server,
		locks:  lock.NewStriped(64),
	}, nil
}

func (s *SFTPTransport) GetBackendType() BackendType {
	return BackendTypeSFTP
}

func (s *SFTPTransport) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return s.client.Close()
}

func (s *SFTPTransport) Stat(ctx context.Context, remotePath string) (*FileMetadata, error) {
	stat, err := s.client.Stat(path.Clean(remotePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FileMetadata{Exists: false}, nil
		}
		return nil, classifyRemoteError(opStat, remotePath, err)
	}

	return &FileMetadata{
		Exists:       true,
		IsDir:        stat.IsDir(),
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}, nil
}

func (s *SFTPTransport) Mkdir(ctx context.Context, remotePath string) error {
	return classifyRemoteError(opMkdir, remotePath, s.client.Mkdir(path.Clean(remotePath)))
}

// Put streams localPath into remotePath, replacing any existing file.
func (s *SFTPTransport) Put(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	remotePath = path.Clean(remotePath)

	// two local files may map onto the same remote file
	s.locks.Lock(remotePath)
	defer s.locks.Unlock(remotePath)

	localFile, err := fs.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &StorageError{Type: ErrorTypeLocalNotFound, Message: fmt.Sprintf("local file %s does not exist", localPath), Cause: err}
		}
		return &StorageError{Type: ErrorTypeInvalidInput, Message: fmt.Sprintf("open local file %s", localPath), Cause: err}
	}
	defer func() { _ = localFile.Close() }()

	remoteFile, err := s.client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return classifyRemoteError(opPut, remotePath, err)
	}

	_, copyErr := copyWithContext(ctx, remoteFile, &progressReader{r: localFile, onProgress: onProgress})
	closeErr := remoteFile.Close()
	if copyErr != nil {
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return copyErr
		}
		return classifyRemoteError(opPut, remotePath, fmt.Errorf("copy file data: %w", copyErr))
	}
	if closeErr != nil {
		return classifyRemoteError(opPut, remotePath, fmt.Errorf("close remote file: %w", closeErr))
	}
	return nil
}

// Run executes cmd on the server over a fresh SSH session and returns its
// stdout. The session is signalled when ctx ends.
func (s *SFTPTransport) Run(ctx context.Context, cmd string) (string, error) {
	if s.conn == nil || s.conn.sshConn == nil {
		return "", fmt.Errorf("no ssh connection")
	}

	session, err := s.conn.sshConn.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("command failed: %w\nstderr: %s", err, stderr.String())
		}
		return stdout.String(), nil
	}
}

type progressReader struct {
	r          io.Reader
	onProgress ProgressFunc
	total      int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.total)
		}
	}
	return n, err
}

type readerFunc func(p []byte) (n int, err error)

func (rf readerFunc) Read(p []byte) (n int, err error) { return rf(p) }

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, readerFunc(func(p []byte) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return src.Read(p)
		}
	}))
}
