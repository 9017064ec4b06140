package audiostore

import (
	"context"
	"errors"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterline/relay/pkg/logging"
)

type fakeS3 struct {
	putInput *s3.PutObjectInput
	putErr   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = params
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	url        string
	presignErr error
	lastInput  *s3.GetObjectInput
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.lastInput = params
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &v4.PresignedHTTPRequest{URL: f.url}, nil
}

func TestPutUploadsAndReturnsPresignedURL(t *testing.T) {
	s3Client := &fakeS3{}
	presigner := &fakePresigner{url: "https://example-bucket.s3.amazonaws.com/clips/call-1/signed"}
	store := New(s3Client, presigner, "example-bucket", logging.Default())

	url, err := store.Put(context.Background(), "call-1", []byte("audio bytes"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, presigner.url, url)

	require.NotNil(t, s3Client.putInput)
	assert.Equal(t, "example-bucket", *s3Client.putInput.Bucket)
	assert.Equal(t, "audio/wav", *s3Client.putInput.ContentType)
	assert.Contains(t, *s3Client.putInput.Key, "clips/call-1/")

	require.NotNil(t, presigner.lastInput)
	assert.Equal(t, *s3Client.putInput.Key, *presigner.lastInput.Key)
}

func TestPutReturnsErrorWhenNotConfigured(t *testing.T) {
	store := New(nil, nil, "", logging.Default())
	assert.False(t, store.Enabled())

	_, err := store.Put(context.Background(), "call-1", []byte("x"), "audio/wav")
	assert.Error(t, err)
}

func TestPutPropagatesUploadError(t *testing.T) {
	s3Client := &fakeS3{putErr: errors.New("s3 unavailable")}
	presigner := &fakePresigner{}
	store := New(s3Client, presigner, "bucket", logging.Default())

	_, err := store.Put(context.Background(), "call-1", []byte("x"), "audio/wav")
	assert.ErrorContains(t, err, "s3 unavailable")
}

func TestPutPropagatesPresignError(t *testing.T) {
	s3Client := &fakeS3{}
	presigner := &fakePresigner{presignErr: errors.New("presign failed")}
	store := New(s3Client, presigner, "bucket", logging.Default())

	_, err := store.Put(context.Background(), "call-1", []byte("x"), "audio/wav")
	assert.ErrorContains(t, err, "presign failed")
}

func TestEnabledRequiresBucketAndClients(t *testing.T) {
	assert.False(t, (&Store{}).Enabled())
	assert.False(t, New(&fakeS3{}, nil, "bucket", nil).Enabled())
	assert.False(t, New(nil, &fakePresigner{}, "bucket", nil).Enabled())
	assert.True(t, New(&fakeS3{}, &fakePresigner{}, "bucket", nil).Enabled())
}
