// Package archive uploads finished evaluations to S3-compatible object
// storage (AWS S3, Cloudflare R2, MinIO).
//
// Each evaluation is stored under
// {prefix}/{yyyy}/{mm}/{dd}/{evaluation id}/ as result.json, report.html and
// the PDF report.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/report"
)

// Putter is the subset of the S3 client the archiver uses.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	_ Putter        = (*s3.Client)(nil)
	_ evaluate.Hook = (*Archiver)(nil)
)

// Config holds the object store connection settings.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Archiver uploads evaluation artefacts. It implements [evaluate.Hook].
type Archiver struct {
	client Putter
	bucket string
	prefix string
}

// NewClient builds an S3 client from cfg. With an Endpoint set the client
// uses path-style addressing, which R2 and MinIO require.
func NewClient(cfg Config) (*s3.Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("archive: access key ID and secret access key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

// New returns an Archiver writing to bucket through client.
func New(client Putter, bucket, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Name implements [evaluate.Hook].
func (a *Archiver) Name() string { return "archive" }

// AfterEvaluation implements [evaluate.Hook] by calling [Archiver.Store].
func (a *Archiver) AfterEvaluation(ctx context.Context, r *evaluate.Result) error {
	_, err := a.Store(ctx, r)
	return err
}

// Store uploads the artefacts for r and returns the object key prefix.
func (a *Archiver) Store(ctx context.Context, r *evaluate.Result) (string, error) {
	dir := a.Dir(r)

	data, err := r.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("archive: encode result: %w", err)
	}
	var html, pdf bytes.Buffer
	if err := report.HTML(&html, r); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := report.PDF(&pdf, r); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	objects := []struct {
		name, contentType string
		body              []byte
	}{
		{"result.json", "application/json", data},
		{"report.html", "text/html; charset=utf-8", html.Bytes()},
		{report.FileName(r.StartedAt), "application/pdf", pdf.Bytes()},
	}
	for _, o := range objects {
		key := path.Join(dir, o.name)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(o.body),
			ContentType:   aws.String(o.contentType),
			ContentLength: aws.Int64(int64(len(o.body))),
			Metadata:      map[string]string{"evaluation-id": r.ID},
		})
		if err != nil {
			return "", fmt.Errorf("archive: put %s: %w", key, err)
		}
	}
	return dir, nil
}

// Dir returns the key prefix used for r.
func (a *Archiver) Dir(r *evaluate.Result) string {
	t := r.StartedAt
	if t.IsZero() {
		t = time.Now()
	}
	return path.Join(a.prefix, t.UTC().Format("2006/01/02"), sanitize(r.ID))
}

// sanitize keeps only characters that are safe in an object key segment.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
