package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"journal-desk/config"
)

// ObjectPutter ist der Ausschnitt des S3-Clients, den das Archiv benötigt.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LetterArchive legt Entscheidungsbriefe in einem S3-kompatiblen Bucket ab.
type LetterArchive struct {
	client  ObjectPutter
	bucket  string
	baseURL string
}

// NewS3Client erstellt einen S3-Client für den konfigurierten Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.LetterS3URL,
				SigningRegion:     cfg.LetterS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.LetterS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.LetterS3Key, cfg.LetterS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewLetterArchive erstellt ein Archiv über client.
func NewLetterArchive(client ObjectPutter, bucket, baseURL string) *LetterArchive {
	return &LetterArchive{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// LetterKey bildet den Objektschlüssel eines Entscheidungsbriefs.
func LetterKey(manuscriptID uint, round int) string {
	return fmt.Sprintf("decisions/manuscript-%d/round-%d.txt", manuscriptID, round)
}

// Archive lädt den Brief hoch und gibt den Link zurück.
func (a *LetterArchive) Archive(ctx context.Context, key string, letter []byte) (string, error) {
	contentType := "text/plain; charset=utf-8"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(letter),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive letter %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", a.baseURL, a.bucket, key), nil
}
