package storage

import (
	"context"
	"fmt"

	"sshpublish/pkg/config"
)

// NetDialer opens real network transports.
type NetDialer struct{}

func NewDialer() *NetDialer {
	return &NetDialer{}
}

func (NetDialer) Dial(ctx context.Context, server *config.ServerConfig) (Transport, error) {
	switch server.Kind() {
	case config.ServerTypeSFTP:
		t, err := DialSFTP(ctx, server)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.ServerTypeS3:
		t, err := DialS3(server)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, &StorageError{
			Type:    ErrorTypeInvalidInput,
			Message: fmt.Sprintf("unsupported server type: %s", server.Type),
		}
	}
}
