package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/multierr"
)

// ObjectStore ist der Ausschnitt des S3-Clients für Datenbank-Backups.
type ObjectStore interface {
	ObjectPutter
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BackupArchive legt komprimierte Dumps unter einem Präfix ab und rotiert sie.
type BackupArchive struct {
	client ObjectStore
	bucket string
	prefix string
}

// NewBackupArchive erstellt ein Backup-Archiv.
func NewBackupArchive(client ObjectStore, bucket, prefix string) *BackupArchive {
	return &BackupArchive{client: client, bucket: bucket, prefix: prefix}
}

// BackupName bildet den Dateinamen eines Dumps zum Zeitpunkt at.
func BackupName(at time.Time) string {
	return fmt.Sprintf("backup-%s.sql.gz", at.UTC().Format("2006-01-02T15-04-05Z"))
}

// Upload lädt einen Dump hoch und gibt den Schlüssel zurück.
func (b *BackupArchive) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(b.prefix, name)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload backup %s: %w", key, err)
	}
	return key, nil
}

// Rotate behält die keep jüngsten Dumps und löscht den Rest. Gelöschte
// Schlüssel werden auch bei Teilfehlern zurückgegeben.
func (b *BackupArchive) Rotate(ctx context.Context, keep int) ([]string, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var deleted []string
	var failures error
	for _, key := range staleKeys(out.Contents, keep) {
		if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, failures
}

// staleKeys liefert alle Schlüssel außer den keep jüngsten.
func staleKeys(objects []types.Object, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]types.Object(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	keys := make([]string, 0, len(sorted)-keep)
	for _, obj := range sorted[keep:] {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys
}
