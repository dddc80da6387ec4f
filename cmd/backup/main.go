// Command backup erstellt einen pg_dump der Workflow-Datenbank, legt ihn im
// S3-Bucket des Briefarchivs ab und rotiert ältere Dumps.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"journal-desk/config"
	"journal-desk/storage"
)

func main() {
	keep := pflag.Int("keep", 4, "number of backups to keep")
	prefix := pflag.String("prefix", "backups", "object key prefix inside the bucket")
	bucket := pflag.String("bucket", "", "target bucket (defaults to LETTER_S3_BUCKET)")
	pflag.Parse()

	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if cfg.DBDriver != "postgres" {
		logging.Fatal("Backups require DB_DRIVER=postgres", zap.String("driver", cfg.DBDriver))
	}
	if *bucket == "" {
		*bucket = cfg.LetterS3Bucket
	}
	if !cfg.LetterArchiveConfigured() || *bucket == "" {
		logging.Fatal("Backups require the S3 settings LETTER_S3_URL, LETTER_S3_KEY and a bucket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	dump, err := createDump(ctx, cfg)
	if err != nil {
		logging.Fatal("Database dump failed", zap.Error(err))
	}

	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	archive := storage.NewBackupArchive(client, *bucket, *prefix)

	key, err := archive.Upload(ctx, storage.BackupName(time.Now()), dump)
	if err != nil {
		logging.Fatal("Backup upload failed", zap.Error(err))
	}
	logging.Info("Backup uploaded", zap.String("bucket", *bucket), zap.String("key", key), zap.Int("bytes", len(dump)))

	deleted, err := archive.Rotate(ctx, *keep)
	for _, k := range deleted {
		logging.Info("Old backup deleted", zap.String("key", k))
	}
	if err != nil {
		logging.Error("Backup rotation incomplete", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

// createDump ruft pg_dump auf und komprimiert die Ausgabe.
func createDump(ctx context.Context, cfg *config.Config) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, stdout); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("pg_dump: %w: %s", err, stderr.String())
	}
	return buf.Bytes(), nil
}
