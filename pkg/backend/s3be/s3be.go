// Package s3be 实现格式码 "50"：远端 S3 兼容存储 (AWS S3 / MinIO)。
package s3be

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gridvault/pkg/backend"
	"gridvault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

const Code types.BackendCode = "50"

// Store 实现了 backend.Backend 接口
type Store struct {
	client *s3.Client
	bucket string
}

// Config 用于初始化 Store
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// New 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func New(ctx context.Context, cfg Config) (*Store, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 指定了 Endpoint (比如 MinIO 的 localhost:9000) 时覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// 【关键】MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	// 3. 确保 Bucket 存在
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket})
	if err != nil {
		if _, cerr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); cerr != nil {
			// 可能是并发创建或权限问题；生产环境建议手动管理 Bucket
			return nil, fmt.Errorf("failed to ensure bucket %q exists: %w", cfg.Bucket, cerr)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// transformKey 将令牌转换为 S3 Key (Sharding)
// Logic: "aabbcc..." -> "aa/bbcc..."
func transformKey(token string) string {
	if len(token) < 2 {
		return token
	}
	return token[:2] + "/" + token[2:]
}

func (s *Store) Write(ctx context.Context, data []byte) (types.Location, error) {
	loc := types.Location(uuid.NewString())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(transformKey(string(loc))),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return loc, nil
}

func (s *Store) Read(ctx context.Context, loc types.Location) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(transformKey(string(loc))),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, loc types.Location) error {
	key := transformKey(string(loc))

	// S3 的 DeleteObject 对不存在的 key 也返回成功；先 Head 探测
	// 以满足 delete -> ok|NotFound 的契约。
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "404") {
			return backend.ErrNotFound
		}
		return fmt.Errorf("s3 head failed: %w", err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func (s *Store) Code() types.BackendCode { return Code }

func (s *Store) Close() error { return nil }
