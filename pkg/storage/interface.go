package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"

	"sshpublish/pkg/config"
)

// Transport is one open connection to one upload target.
type Transport interface {
	GetBackendType() BackendType
	Stat(ctx context.Context, remotePath string) (*FileMetadata, error)
	Mkdir(ctx context.Context, remotePath string) error
	Put(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error
	Close() error
}

// Dialer opens transports for configured servers.
type Dialer interface {
	Dial(ctx context.Context, server *config.ServerConfig) (Transport, error)
}

// ImplicitDirectories is implemented by transports whose namespace has no
// real directories (object stores). Provisioning is skipped for them.
type ImplicitDirectories interface {
	ImplicitDirectories() bool
}

// ProgressFunc receives the number of bytes transferred so far.
type ProgressFunc func(transferred int64)

type FileMetadata struct {
	Exists       bool      `json:"exists"`
	IsDir        bool      `json:"is_dir"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type BackendType string

const (
	BackendTypeSFTP BackendType = "sftp"
	BackendTypeS3   BackendType = "s3"
)

type StorageError struct {
	Type    ErrorType
	Message string
	Cause   error
}

type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeAccessDenied  ErrorType = "access_denied"
	ErrorTypeParentMissing ErrorType = "parent_missing"
	ErrorTypeLocalNotFound ErrorType = "local_not_found"
	ErrorTypeNotDirectory  ErrorType = "not_directory"
	ErrorTypeNetworkError  ErrorType = "network_error"
	ErrorTypeInternal      ErrorType = "internal_error"
	ErrorTypeInvalidInput  ErrorType = "invalid_input"
)

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// TypeOf returns the ErrorType carried by err, or "" when err is not a
// StorageError.
func TypeOf(err error) ErrorType {
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return ""
	}
	return storageErr.Type
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return false
	}

	switch storageErr.Type {
	case ErrorTypeNetworkError, ErrorTypeInternal, ErrorTypeParentMissing:
		return true
	case ErrorTypeNotFound, ErrorTypeAccessDenied, ErrorTypeLocalNotFound,
		ErrorTypeNotDirectory, ErrorTypeInvalidInput:
		return false
	default:
		return false
	}
}

// remoteOp names the operation a remote error came from; a missing path
// means different things for each.
type remoteOp int

const (
	opStat remoteOp = iota
	opMkdir
	opPut
)

// classifyRemoteError maps errors returned by pkg/sftp, which normalises
// SSH_FX_NO_SUCH_FILE and SSH_FX_PERMISSION_DENIED to the os sentinels.
func classifyRemoteError(op remoteOp, remotePath string, err error) error {
	if err == nil {
		return nil
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}

	switch {
	case errors.Is(err, os.ErrPermission):
		return &StorageError{Type: ErrorTypeAccessDenied, Message: fmt.Sprintf("permission denied on %s", remotePath), Cause: err}
	case errors.Is(err, os.ErrNotExist):
		if op == opStat {
			return &StorageError{Type: ErrorTypeNotFound, Message: fmt.Sprintf("%s not found", remotePath), Cause: err}
		}
		return &StorageError{Type: ErrorTypeParentMissing, Message: fmt.Sprintf("parent directory of %s does not exist", remotePath), Cause: err}
	case isNetworkError(err):
		return &StorageError{Type: ErrorTypeNetworkError, Message: fmt.Sprintf("connection problem on %s", remotePath), Cause: err}
	default:
		return &StorageError{Type: ErrorTypeInternal, Message: fmt.Sprintf("remote operation on %s failed", remotePath), Cause: err}
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection)
}
