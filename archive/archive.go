// Package archive stores finished call transcripts in S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bytedance/sonic"
	"github.com/room4-2/voicelab/transcript"
)

// Record is the call log written when a live session ends. Audio is never
// part of it.
type Record struct {
	SessionID string            `json:"sessionId"`
	AgentID   string            `json:"agentId"`
	AgentName string            `json:"agentName"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt"`
	Outcome   string            `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	Turns     []transcript.Turn `json:"turns"`
}

// Duration of the call
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Key is the object key for the record
func (r Record) Key() string {
	agentID := r.AgentID
	if agentID == "" {
		agentID = "unknown"
	}
	return path.Join("calls", agentID, r.SessionID+".json")
}

// Archive persists call records
type Archive interface {
	Put(ctx context.Context, rec Record) error
}

// Noop discards records; used when no bucket is configured.
type Noop struct{}

func (Noop) Put(context.Context, Record) error { return nil }

// S3Config holds S3-compatible storage settings
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// IsConfigured reports whether uploads can be attempted
func (c S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// putter is the S3 call the archive needs
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes records as JSON objects under calls/<agentID>/.
type S3Archive struct {
	client putter
	bucket string
	logger *slog.Logger
}

// NewS3Archive creates an archive for the given bucket.
func NewS3Archive(cfg S3Config, logger *slog.Logger) (*S3Archive, error) {
	if !cfg.IsConfigured() {
		return nil, errors.New("S3 is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archive{
		client: newS3Client(cfg),
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

func newS3Client(cfg S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Put uploads one record.
func (a *S3Archive) Put(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return errors.New("record has no session id")
	}
	body, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	key := rec.Key()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	a.logger.Info("call log archived", "key", key, "turns", len(rec.Turns))
	return nil
}
