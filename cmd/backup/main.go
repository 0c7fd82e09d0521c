// Command backup dumps the catalog database and archives the per-user data
// directory (filter documents and match databases), uploads both to S3, and
// rotates old backups.
package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

type BackupConfig struct {
	PostgresHost     string `envconfig:"DB_HOST" required:"true"`
	PostgresUser     string `envconfig:"DB_USER" required:"true"`
	PostgresPassword string `envconfig:"DB_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"DB_NAME" required:"true"`
	DataDir          string `envconfig:"DATA_DIR" default:"./data"`
	BackupBucket     string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("starting backup...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("config load error: %v", err)
	}

	client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("failed to create S3 client: %v", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")

	dump, err := createDump(cfg)
	if err != nil {
		log.Fatalf("failed to dump catalog: %v", err)
	}
	dumpKey := fmt.Sprintf("catalog-%s.sql.gz", stamp)
	if err := upload(client, cfg.BackupBucket, dumpKey, dump); err != nil {
		log.Fatalf("failed to upload catalog dump: %v", err)
	}
	log.Printf("uploaded s3://%s/%s", cfg.BackupBucket, dumpKey)

	userData, err := archiveUserData(filepath.Join(cfg.DataDir, "users"))
	if err != nil {
		log.Fatalf("failed to archive user data: %v", err)
	}
	dataKey := fmt.Sprintf("userdata-%s.tar.gz", stamp)
	if err := upload(client, cfg.BackupBucket, dataKey, userData); err != nil {
		log.Fatalf("failed to upload user data: %v", err)
	}
	log.Printf("uploaded s3://%s/%s", cfg.BackupBucket, dataKey)

	if err := rotateBackups(client, cfg); err != nil {
		log.Fatalf("failed to rotate old backups: %v", err)
	}
	log.Println("backup complete")
}

func createDump(cfg BackupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.PostgresHost,
		"-U", cfg.PostgresUser,
		"-d", cfg.PostgresDB,
		"-w",
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.PostgresPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// archiveUserData tars the users directory: filter JSON documents and the
// per-user bolt match databases.
func archiveUserData(root string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func createS3Client(cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.BackupEndpoint,
				SigningRegion:     cfg.BackupRegion,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.BackupRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

func upload(client *s3.Client, bucket, key string, data []byte) error {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	return err
}

// rotateBackups keeps the newest KeepBackups objects of each kind and
// deletes the rest.
func rotateBackups(client *s3.Client, cfg BackupConfig) error {
	out, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: &cfg.BackupBucket,
	})
	if err != nil {
		return err
	}

	byPrefix := map[string][]string{}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		switch {
		case len(key) > 8 && key[:8] == "catalog-":
			byPrefix["catalog"] = append(byPrefix["catalog"], key)
		case len(key) > 9 && key[:9] == "userdata-":
			byPrefix["userdata"] = append(byPrefix["userdata"], key)
		}
	}

	for _, keys := range byPrefix {
		// Timestamps in the key names sort chronologically.
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		if len(keys) <= cfg.KeepBackups {
			continue
		}
		for _, key := range keys[cfg.KeepBackups:] {
			if _, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
				Bucket: &cfg.BackupBucket,
				Key:    &key,
			}); err != nil {
				return err
			}
			log.Printf("deleted old backup %s", key)
		}
	}
	return nil
}
