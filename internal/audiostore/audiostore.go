// Package audiostore persists TTS-generated call audio in S3 and hands
// back a presigned URL for the XML <Play> element, per spec.md §4.9's
// media worker pipeline (STT -> dialog -> TTS -> playback URL).
package audiostore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/shelterline/relay/internal/media"
	"github.com/shelterline/relay/pkg/logging"
)

// presignTTL is how long a played-back clip's URL stays valid, matching
// the order of magnitude of the other vendor-response TTLs in the
// system (the geocode cache, for instance).
const presignTTL = 24 * time.Hour

// s3API is the subset of the S3 client Store needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presigner is the subset of *s3.PresignClient Store needs.
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store uploads generated audio clips to S3 and returns a presigned
// URL the telephony provider can fetch them from. It implements
// media.AudioStore.
type Store struct {
	bucket    string
	client    s3API
	presigner presigner
	logger    *logging.Logger
}

// New builds a Store. If bucket is empty, Put returns an error, since
// there is nowhere to upload to; callers should check Enabled() first
// and fall back to <Say> per spec.md §3.
func New(client s3API, presignClient presigner, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, client: client, presigner: presignClient, logger: logger}
}

// NewFromS3Client builds a Store from a real *s3.Client, deriving its
// own presign client from it. This is the constructor cmd/relay-api
// wires up; New exists separately so tests can inject fakes for both
// halves independently.
func NewFromS3Client(client *s3.Client, bucket string, logger *logging.Logger) *Store {
	return New(client, s3.NewPresignClient(client), bucket, logger)
}

// Enabled reports whether S3-backed audio storage is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil && s.presigner != nil
}

var _ media.AudioStore = (*Store)(nil)

// Put uploads audio under a per-call, per-clip key and returns a
// presigned GET URL for it.
func (s *Store) Put(ctx context.Context, callID string, audio []byte, mime string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("audiostore: not configured")
	}

	key := fmt.Sprintf("clips/%s/%s.audio", callID, uuid.NewString())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return "", fmt.Errorf("audiostore: put %s: %w", key, err)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = presignTTL
	})
	if err != nil {
		return "", fmt.Errorf("audiostore: presign %s: %w", key, err)
	}

	s.logger.Debug("audiostore: uploaded clip", "call_id", callID, "key", key, "bytes", len(audio))
	return req.URL, nil
}
