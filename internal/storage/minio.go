package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("transcribe-upload/storage")

// publicReadPolicy lets anonymous clients GET objects under the key prefix,
// which is how the transcription worker fetches chunk URLs.
const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/%s*"]
  }]
}`

type bucketPolicyAPI interface {
	GetBucketPolicy(ctx context.Context, bucketName string) (string, error)
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
}

// stringList reads IAM fields that may be a single string or an array.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (l stringList) has(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

type policyStatement struct {
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Action    stringList      `json:"Action"`
	Resource  stringList      `json:"Resource"`
}

func (st policyStatement) anonymous() bool {
	var who string
	if err := json.Unmarshal(st.Principal, &who); err == nil {
		return who == "*"
	}
	var byType struct {
		AWS stringList `json:"AWS"`
	}
	if err := json.Unmarshal(st.Principal, &byType); err != nil {
		return false
	}
	return byType.AWS.has("*")
}

// grantsPublicRead reports whether policy already allows anonymous GETs on
// every key under prefix.
func grantsPublicRead(policy, bucketName, keyPrefix string) bool {
	if strings.TrimSpace(policy) == "" {
		return false
	}
	var doc struct {
		Statement []policyStatement `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		return false
	}
	want := []string{
		fmt.Sprintf("arn:aws:s3:::%s/%s*", bucketName, keyPrefix),
		fmt.Sprintf("arn:aws:s3:::%s/*", bucketName),
	}
	for _, st := range doc.Statement {
		if st.Effect != "Allow" || !st.anonymous() {
			continue
		}
		if !st.Action.has("s3:GetObject") && !st.Action.has("s3:*") {
			continue
		}
		for _, r := range want {
			if st.Resource.has(r) {
				return true
			}
		}
	}
	return false
}

// ensurePublicRead applies the public-read policy unless the bucket's current
// policy already grants it.
func ensurePublicRead(ctx context.Context, api bucketPolicyAPI, bucketName, keyPrefix string) error {
	current, err := api.GetBucketPolicy(ctx, bucketName)
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchBucketPolicy" {
		return fmt.Errorf("failed to read bucket policy: %w", err)
	}
	if grantsPublicRead(current, bucketName, keyPrefix) {
		return nil
	}
	if err := api.SetBucketPolicy(ctx, bucketName, fmt.Sprintf(publicReadPolicy, bucketName, keyPrefix)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

// MinioClient stores chunk blobs in a MinIO (or any S3-compatible) bucket.
type MinioClient struct {
	client        *minio.Client
	bucketName    string
	publicBaseURL string
}

// NewMinioClient initializes a new MinIO client. It creates the bucket when
// missing and makes sure keyPrefix is publicly readable on every start.
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucketName, keyPrefix, publicBaseURL string, useSSL bool) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	if err := ensurePublicRead(ctx, client, bucketName, keyPrefix); err != nil {
		return nil, err
	}

	if publicBaseURL == "" {
		publicBaseURL = publicURL(client.EndpointURL().String(), bucketName)
	}
	return &MinioClient{client: client, bucketName: bucketName, publicBaseURL: publicBaseURL}, nil
}

// Put uploads one object with tracing
func (mc *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := mc.client.PutObject(ctx, mc.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// PublicURL returns the anonymous GET URL of key.
func (mc *MinioClient) PublicURL(key string) string {
	return publicURL(mc.publicBaseURL, key)
}

// KeyFromURL recovers the object key from a URL returned by PublicURL.
func (mc *MinioClient) KeyFromURL(u string) (string, bool) {
	return keyFromURL(mc.publicBaseURL, u)
}

// Delete removes an object
func (mc *MinioClient) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_object",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	if err := mc.client.RemoveObject(ctx, mc.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// publicURL joins a base URL that already addresses the bucket with key,
// escaping the key's path elements.
func publicURL(base, key string) string {
	joined, err := url.JoinPath(base, key)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + key
	}
	return joined
}

func keyFromURL(base, u string) (string, bool) {
	prefix := strings.TrimSuffix(base, "/") + "/"
	escaped, ok := strings.CutPrefix(u, prefix)
	if !ok || escaped == "" {
		return "", false
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return key, true
}
