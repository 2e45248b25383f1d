package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty bucket", config: Config{}, wantErr: "bucket name is required"},
		{name: "valid minimal config", config: Config{Bucket: "docs"}},
		{name: "valid explicit creds", config: Config{Bucket: "docs", AccessKeyID: "AK", SecretAccessKey: "SK"}},
		{name: "access key without secret", config: Config{Bucket: "docs", AccessKeyID: "AK"}, wantErr: "must be provided together"},
		{name: "secret without access key", config: Config{Bucket: "docs", SecretAccessKey: "SK"}, wantErr: "must be provided together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestNew_NotConfigured(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUpload(t *testing.T) {
	fake := &fakePutter{}
	store := NewWithClient(fake, Config{Bucket: "docs", Region: "eu-west-1"})

	obj, err := store.Upload(context.Background(), "Survey Report.PDF", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "docs", aws.ToString(in.Bucket))
	assert.Equal(t, obj.Key, aws.ToString(in.Key))
	assert.Equal(t, "application/pdf", aws.ToString(in.ContentType))
	assert.Equal(t, int64(8), aws.ToInt64(in.ContentLength))
	assert.Equal(t, []byte("%PDF-1.4"), fake.bodies[0])

	assert.True(t, strings.HasPrefix(obj.Key, DefaultFolder+"/Survey_Report_"), obj.Key)
	assert.True(t, strings.HasSuffix(obj.Key, ".pdf"), obj.Key)
	assert.Equal(t, "https://docs.s3.eu-west-1.amazonaws.com/"+obj.Key, obj.URL)
	assert.Equal(t, int64(8), obj.Size)
	assert.Equal(t, "pdf", obj.Format)
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", &mockAPIError{code: "AccessDenied"}, ErrAccessDenied},
		{"bad key", &mockAPIError{code: "InvalidAccessKeyId"}, ErrInvalidCredentials},
		{"throttled", &mockAPIError{code: "SlowDown"}, ErrThrottled},
		{"unavailable", &mockAPIError{code: "ServiceUnavailable"}, ErrUnavailable},
		{"typed no such bucket", &types.NoSuchBucket{}, ErrBucketNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewWithClient(&fakePutter{err: tt.err}, Config{Bucket: "docs"})
			_, err := store.Upload(context.Background(), "a.pdf", "", []byte("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var upErr *UploadError
			require.True(t, errors.As(err, &upErr))
			assert.Contains(t, upErr.Key, "a_")
		})
	}

	plain := errors.New("connection reset")
	store := NewWithClient(&fakePutter{err: plain}, Config{Bucket: "docs"})
	_, err := store.Upload(context.Background(), "a.pdf", "", []byte("x"))
	assert.ErrorIs(t, err, plain)
}

func TestKey(t *testing.T) {
	a := Key("folder/", "claims.xlsx", []byte("one"))
	b := Key("folder", "claims.xlsx", []byte("two"))
	assert.NotEqual(t, a, b, "different content must give different keys")
	assert.Equal(t, a, Key("folder", "claims.xlsx", []byte("one")))
	assert.True(t, strings.HasPrefix(a, "folder/claims_"))

	assert.True(t, strings.HasPrefix(Key("f", `C:\tmp\???.doc`, nil), "f/attachment_"))
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"aws default region", Config{Bucket: "b"}, "https://b.s3.us-east-1.amazonaws.com"},
		{"aws region", Config{Bucket: "b", Region: "af-south-1"}, "https://b.s3.af-south-1.amazonaws.com"},
		{"path style endpoint", Config{Bucket: "b", Endpoint: "http://localhost:9000/", ForcePathStyle: true}, "http://localhost:9000/b"},
		{"virtual host endpoint", Config{Bucket: "b", Endpoint: "https://nyc3.digitaloceanspaces.com"}, "https://b.nyc3.digitaloceanspaces.com"},
		{"public override", Config{Bucket: "b", PublicBaseURL: "https://cdn.example/docs/"}, "https://cdn.example/docs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(tt.cfg))
		})
	}
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", "", ""))
	assert.Equal(t, "", resolveRegion("", "http://minio:9000", ""))
}
