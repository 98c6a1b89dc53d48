package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ndnstore/pkg/core"
	"ndnstore/pkg/storage"
)

// 对象上附带的元数据，方便在 bucket 里直接排查
const (
	metaChunkType = "ndn-chunk-type"
	metaChunkSize = "ndn-chunk-size"
)

// Adapter 把 chunk 归档到 S3 兼容的对象存储 (AWS / MinIO)
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Prefix 可选，多个 manager 共用一个 bucket 时区分
	Prefix string
}

func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", core.ErrInvalidParam)
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 只支持 path style
		o.UsePathStyle = true
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			// 没有建桶权限时照常返回，读写时再报错
			slog.Warn("ensure archive bucket failed", "bucket", cfg.Bucket, "err", err)
		}
	}

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// key = [prefix/]aa/bbcc....{chunk type}
func (s *Adapter) key(id core.ChunkId) string {
	k := storage.ObjectKey(id)
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *Adapter) Put(ctx context.Context, id core.ChunkId, r io.Reader, size uint64) error {
	// HEAD 比重复上传便宜
	exists, err := s.Has(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          r,
		ContentLength: aws.Int64(int64(size)),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			metaChunkType: id.Type.String(),
			metaChunkSize: strconv.FormatUint(size, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put %s: %w", core.ErrIO, id, err)
	}
	return nil
}

// Get 对 mix chunk 额外比较对象长度，长度不符说明 bucket 里的数据被改过
func (s *Adapter) Get(ctx context.Context, id core.ChunkId) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3 chunk %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: s3 get %s: %w", core.ErrIO, id, err)
	}

	if want, ok := id.Length(); ok && resp.ContentLength != nil && uint64(*resp.ContentLength) != want {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: s3 chunk %s has %d bytes, want %d", core.ErrVerify, id, *resp.ContentLength, want)
	}
	return resp.Body, nil
}

func (s *Adapter) Has(ctx context.Context, id core.ChunkId) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: s3 head %s: %w", core.ErrIO, id, err)
	}
}

// Delete 对不存在的 key 同样返回成功
func (s *Adapter) Delete(ctx context.Context, id core.ChunkId) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 delete %s: %w", core.ErrIO, id, err)
	}
	return nil
}

// isNotFound HEAD 请求没有 body，只能看状态码
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
