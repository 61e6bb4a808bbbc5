package uploads

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioFetcher struct {
	client *minio.Client
	bucket string
}

func NewMinioFetcher(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioFetcher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &MinioFetcher{client: client, bucket: bucket}, nil
}

func (f *MinioFetcher) Fetch(ctx context.Context, fileID string) (Record, error) {
	if err := validID(fileID); err != nil {
		return Record{}, err
	}
	obj, err := f.client.GetObject(ctx, f.bucket, ObjectKey(fileID), minio.GetObjectOptions{})
	if err != nil {
		return Record{}, f.translate(fileID, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return Record{}, f.translate(fileID, err)
	}
	return Decode(fileID, raw)
}

// Ping checks that the bucket exists.
func (f *MinioFetcher) Ping(ctx context.Context) error {
	ok, err := f.client.BucketExists(ctx, f.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", f.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", f.bucket)
	}
	return nil
}

func (f *MinioFetcher) translate(fileID string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return fmt.Errorf("fetch upload %s: %w", fileID, err)
}
