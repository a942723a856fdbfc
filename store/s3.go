/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/mbsmash/cape-smash/s3cache"
	"github.com/rs/zerolog"
)

const DefaultS3Key = "capesmash/snapshot.json"

// S3Store keeps the snapshot as a single object so the server and the bot
// can share state across hosts.
type S3Store struct {
	Client *s3.Client
	bucket string
	key    string
	log    zerolog.Logger
}

// OpenS3 loads the default AWS configuration and checks bucket access.
func OpenS3(ctx context.Context, bucket string, key string,
	logger zerolog.Logger) (*S3Store, error) {

	if bucket == "" {
		return nil, fmt.Errorf("s3 store: no bucket configured")
	}
	if key == "" {
		key = DefaultS3Key
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 store: failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3 store: head bucket failed for %s: %w", bucket, err)
	}

	return &S3Store{Client: client, bucket: bucket, key: key, log: logger}, nil
}

func (s *S3Store) Load(ctx context.Context) (*ranking.Snapshot, error) {
	resp, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if s3cache.IsNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting s3://%v/%v: %w", s.bucket, s.key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%v/%v: %w", s.bucket, s.key, err)
	}
	return ranking.UnmarshalSnapshot(data)
}

func (s *S3Store) Save(ctx context.Context, snap *ranking.Snapshot) error {
	data, err := ranking.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%v/%v: %w", s.bucket, s.key, err)
	}
	return nil
}
