package s3

import (
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"sshpublish/pkg/config"
)

// CreateS3Client builds a path-style client for an s3 server entry. SDK
// retries are disabled since the upload engine owns the retry budget.
func CreateS3Client(server *config.ServerConfig) (*s3.S3, error) {
	timeout := server.Timeout()
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 5 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	retryer := client.DefaultRetryer{
		NumMaxRetries: 0,
	}

	session, err := session.NewSession(&aws.Config{
		Region:           aws.String(server.Region),
		Endpoint:         aws.String(server.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		HTTPClient:       httpClient,
		Retryer:          retryer,
		Credentials: credentials.NewStaticCredentials(
			server.AccessKey,
			server.SecretKey,
			"",
		),
	})
	if err != nil {
		return nil, err
	}

	return s3.New(session), nil
}
