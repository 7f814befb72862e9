package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"sshpublish/pkg/config"
)

var (
	serverWithKeyPath = config.ServerConfig{
		Host:           "10.0.0.1",
		Username:       "deploy",
		Password:       "ignored",
		PrivateKeyPath: "/keys/id_ed25519",
	}
	serverWithPassword = config.ServerConfig{
		Host:     "10.0.0.1",
		Username: "deploy",
		Password: "secret",
	}
	serverWithoutCredentials = config.ServerConfig{
		Host:     "10.0.0.1",
		Username: "deploy",
	}
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "network", err: &StorageError{Type: ErrorTypeNetworkError}, want: true},
		{name: "internal", err: &StorageError{Type: ErrorTypeInternal}, want: true},
		{name: "parent missing", err: &StorageError{Type: ErrorTypeParentMissing}, want: true},
		{name: "access denied", err: &StorageError{Type: ErrorTypeAccessDenied}, want: false},
		{name: "local missing", err: &StorageError{Type: ErrorTypeLocalNotFound}, want: false},
		{name: "wrapped", err: fmt.Errorf("put: %w", &StorageError{Type: ErrorTypeNetworkError}), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestClassifyRemoteError(t *testing.T) {
	assert.Nil(t, classifyRemoteError(opPut, "/a", nil))
	assert.Equal(t, ErrorTypeNotFound, TypeOf(classifyRemoteError(opStat, "/a", os.ErrNotExist)))
	assert.Equal(t, ErrorTypeParentMissing, TypeOf(classifyRemoteError(opPut, "/a", os.ErrNotExist)))
	assert.Equal(t, ErrorTypeAccessDenied, TypeOf(classifyRemoteError(opMkdir, "/a", os.ErrPermission)))
	assert.Equal(t, ErrorTypeNetworkError, TypeOf(classifyRemoteError(opPut, "/a", io.EOF)))
	assert.Equal(t, ErrorTypeNetworkError, TypeOf(classifyRemoteError(opPut, "/a", &net.OpError{Op: "read", Err: errors.New("reset")})))
	assert.Equal(t, ErrorTypeInternal, TypeOf(classifyRemoteError(opMkdir, "/a", errors.New("sftp: failure"))))

	already := &StorageError{Type: ErrorTypeNotDirectory}
	assert.Same(t, already, classifyRemoteError(opMkdir, "/a", already))
}

func TestStorageErrorUnwrap(t *testing.T) {
	err := &StorageError{Type: ErrorTypeNetworkError, Message: "dial", Cause: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "network_error: dial")
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("x")))
}

func TestDialerRejectsUnknownType(t *testing.T) {
	_, err := NewDialer().Dial(context.Background(), &config.ServerConfig{Type: "ftp"})
	assert.Equal(t, ErrorTypeInvalidInput, TypeOf(err))
}
