// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"competition-engine/config"
	"competition-engine/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotArchiver writes finalized ranking snapshots to R2 as JSON.
type SnapshotArchiver struct {
	Client     ObjectPutter
	Bucket     string
	PublicBase string
}

func endpointFor(cfg config.R2Config) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
}

// NewSnapshotArchiver builds an R2 client from static credentials.
func NewSnapshotArchiver(ctx context.Context, cfg config.R2Config) (*SnapshotArchiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := endpointFor(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = endpoint + "/" + cfg.Bucket
	}
	return &SnapshotArchiver{Client: client, Bucket: cfg.Bucket, PublicBase: strings.TrimRight(publicBase, "/")}, nil
}

// SnapshotKey is the object key of a snapshot, e.g.
// snapshots/weekly/<competition id>/<snapshot id>.json
func SnapshotKey(s *models.Snapshot) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.json", s.Kind, s.CompetitionID, s.ID)
}

// Archive uploads the snapshot and returns its public URL.
func (a *SnapshotArchiver) Archive(ctx context.Context, s *models.Snapshot) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := SnapshotKey(s)
	_, err = a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	return fmt.Sprintf("%s/%s", a.PublicBase, key), nil
}
