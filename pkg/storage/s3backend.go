package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"sshpublish/pkg/config"
	s3client "sshpublish/pkg/s3"
)

// S3Transport uploads into a bucket. Remote paths map to object keys with
// the leading slash removed.
type S3Transport struct {
	client s3iface.S3API
	bucket string
}

func NewS3Transport(client s3iface.S3API, bucket string) *S3Transport {
	return &S3Transport{
		client: client,
		bucket: bucket,
	}
}

// DialS3 creates a transport for an s3 server entry. No network traffic
// happens until the first request.
func DialS3(server *config.ServerConfig) (*S3Transport, error) {
	client, err := s3client.CreateS3Client(server)
	if err != nil {
		return nil, &StorageError{Type: ErrorTypeInvalidInput, Message: "failed to create s3 client", Cause: err}
	}
	return NewS3Transport(client, server.Bucket), nil
}

func objectKey(remotePath string) string {
	return strings.TrimPrefix(remotePath, "/")
}

func (s *S3Transport) GetBackendType() BackendType {
	return BackendTypeS3
}

func (s *S3Transport) ImplicitDirectories() bool {
	return true
}

func (s *S3Transport) Close() error {
	return nil
}

func (s *S3Transport) Stat(ctx context.Context, remotePath string) (*FileMetadata, error) {
	headResp, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case "NoSuchKey", "NotFound":
				return &FileMetadata{Exists: false}, nil
			}
		}
		return nil, s.convertS3Error(err)
	}

	metadata := &FileMetadata{Exists: true}
	if headResp.ContentLength != nil {
		metadata.Size = *headResp.ContentLength
	}
	if headResp.LastModified != nil {
		metadata.LastModified = *headResp.LastModified
	}
	return metadata, nil
}

// Mkdir is a no-op, prefixes exist as soon as an object does.
func (s *S3Transport) Mkdir(ctx context.Context, remotePath string) error {
	return nil
}

func (s *S3Transport) Put(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	file, err := fs.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &StorageError{Type: ErrorTypeLocalNotFound, Message: fmt.Sprintf("local file %s does not exist", localPath), Cause: err}
		}
		return &StorageError{Type: ErrorTypeInvalidInput, Message: "failed to open file", Cause: err}
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return &StorageError{Type: ErrorTypeInternal, Message: "failed to stat file", Cause: err}
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey(remotePath)),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return s.convertS3Error(err)
	}

	if onProgress != nil {
		onProgress(info.Size())
	}
	return nil
}

func (s *S3Transport) convertS3Error(err error) error {
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "NoSuchBucket":
			return &StorageError{
				Type:    ErrorTypeNotFound,
				Message: fmt.Sprintf("bucket %s not found", s.bucket),
				Cause:   err,
			}
		case "AccessDenied", "Forbidden":
			return &StorageError{
				Type:    ErrorTypeAccessDenied,
				Message: "access denied",
				Cause:   err,
			}
		case "RequestTimeout", "ServiceUnavailable", "Throttling", "ThrottlingException", "RequestError":
			return &StorageError{
				Type:    ErrorTypeNetworkError,
				Message: "service temporarily unavailable",
				Cause:   err,
			}
		default:
			if strings.Contains(strings.ToLower(aerr.Message()), "timeout") {
				return &StorageError{
					Type:    ErrorTypeNetworkError,
					Message: "request timeout",
					Cause:   err,
				}
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &StorageError{
			Type:    ErrorTypeNetworkError,
			Message: "upload timeout",
			Cause:   err,
		}
	}

	return &StorageError{
		Type:    ErrorTypeInternal,
		Message: "internal storage error",
		Cause:   err,
	}
}
