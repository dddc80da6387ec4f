package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects   map[string]time.Time
	failOn    string
	lastAdded time.Time
}

func (f *fakeObjectStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastAdded = f.lastAdded.Add(time.Hour)
	f.objects[aws.ToString(in.Key)] = f.lastAdded
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k, at := range f.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: aws.Time(at)})
	}
	return out, nil
}

func (f *fakeObjectStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failOn {
		return nil, errors.New("access denied")
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestBackupArchive_UploadAndRotate(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]time.Time{}, lastAdded: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	archive := NewBackupArchive(store, "journal", "backups")
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		key, err := archive.Upload(ctx, BackupName(store.lastAdded.Add(time.Hour)), []byte("dump"))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	assert.Equal(t, "backups/backup-2026-01-01T01-00-00Z.sql.gz", keys[0])

	deleted, err := archive.Rotate(ctx, 3)
	require.NoError(t, err)
	sort.Strings(deleted)
	assert.Equal(t, keys[:2], deleted)
	assert.Len(t, store.objects, 3)

	deleted, err = archive.Rotate(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestBackupArchive_RotateReportsPartialFailure(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeObjectStore{objects: map[string]time.Time{
		"backups/a": base,
		"backups/b": base.Add(time.Hour),
		"backups/c": base.Add(2 * time.Hour),
	}, failOn: "backups/a"}
	archive := NewBackupArchive(store, "journal", "backups")

	deleted, err := archive.Rotate(context.Background(), 1)
	assert.Error(t, err)
	assert.Equal(t, []string{"backups/b"}, deleted)
	assert.Contains(t, store.objects, "backups/a")
}
