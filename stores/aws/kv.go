package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sketchpad/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// ObjectAPI is the subset of the S3 client used by the store.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Store struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewStore creates a new S3-based key-value store using the default AWS
// configuration chain. Keys are stored as objects under prefix.
func NewStore(bucketName, prefix string) core.KeyValueStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logrus.Fatalf("unable to load SDK config, %v", err)
	}

	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName, prefix)
}

// NewStoreWithClient creates a store on top of an existing client.
func NewStoreWithClient(client ObjectAPI, bucketName, prefix string) core.KeyValueStore {
	return &s3Store{
		client: client,
		bucket: bucketName,
		prefix: prefix,
	}
}

func (s *s3Store) objectKey(key string) (string, error) {
	// Keys are plain names, never paths.
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q: must not be empty or a dot directory", key)
	}
	if path.Base(key) != key {
		return "", fmt.Errorf("invalid key %q: must not be a path", key)
	}
	if s.prefix == "" {
		return key, nil
	}
	return path.Join(s.prefix, key), nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"bucket": s.bucket, "object_key": objectKey})

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Debug("Object not found")
			return nil, core.ErrKeyNotFound
		}
		log.WithError(err).Error("Failed to get object")
		return nil, fmt.Errorf("failed to get object %s: %w", objectKey, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", objectKey, err)
	}

	log.WithField("data_length", len(data)).Debug("Object retrieved successfully")
	return data, nil
}

func (s *s3Store) Set(ctx context.Context, key string, value []byte) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		logrus.WithError(err).WithField("object_key", objectKey).Error("Failed to put object")
		return fmt.Errorf("failed to put object %s: %w", objectKey, err)
	}

	logrus.WithFields(logrus.Fields{
		"object_key":  objectKey,
		"data_length": len(value),
	}).Debug("Object stored successfully")
	return nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	// DeleteObject succeeds for missing keys.
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		logrus.WithError(err).WithField("object_key", objectKey).Error("Failed to delete object")
		return fmt.Errorf("failed to delete object %s: %w", objectKey, err)
	}
	return nil
}
