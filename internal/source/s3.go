package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API 是 S3Source 依赖的最小客户端接口，便于测试注入。
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client 按默认凭证链加载 AWS 配置；endpoint 非空时启用 path-style 访问（MinIO 等）。
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Source 读取 s3://bucket/key 形式的源。
type S3Source struct {
	url    string
	bucket string
	key    string
	api    S3API
	meta   *metadata

	body io.ReadCloser
}

// NewS3Source 解析 s3://bucket/key 并创建源句柄。
func NewS3Source(rawURL string, api S3API, storage InfoStorage) (*S3Source, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	return &S3Source{
		url:    rawURL,
		bucket: bucket,
		key:    key,
		api:    api,
		meta:   newMetadata(rawURL, storage),
	}, nil
}

func (s *S3Source) URL() string {
	return s.url
}

func (s *S3Source) Info(ctx context.Context) (Info, error) {
	info, err := s.meta.load(ctx, s.probe)
	if err != nil {
		return info, fmt.Errorf("%w: %s: %w", ErrUnavailable, s.url, err)
	}
	return info, nil
}

func (s *S3Source) probe(ctx context.Context) (Info, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return Info{}, err
	}
	length := int64(-1)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return Info{Length: length, Mime: aws.ToString(out.ContentType)}, nil
}

func (s *S3Source) Open(ctx context.Context, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	_ = s.Close()

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := s.api.GetObject(ctx, input)
	if err != nil {
		if offset > 0 && httpStatus(err) == http.StatusRequestedRangeNotSatisfiable {
			s.body = http.NoBody
			return nil
		}
		return fmt.Errorf("open %s at %d: %w", s.url, offset, err)
	}

	total := parseContentRangeTotal(aws.ToString(out.ContentRange))
	if total < 0 && out.ContentLength != nil {
		total = offset + *out.ContentLength
	}
	s.meta.learn(Info{Length: total, Mime: aws.ToString(out.ContentType)})
	s.body = out.Body
	return nil
}

func (s *S3Source) Read(p []byte) (int, error) {
	if s.body == nil {
		return 0, ErrNotOpened
	}
	n, err := s.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read %s: %w", s.url, err)
	}
	return n, err
}

func (s *S3Source) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *S3Source) Clone() Source {
	return &S3Source{
		url:    s.url,
		bucket: s.bucket,
		key:    s.key,
		api:    s.api,
		meta:   s.meta,
	}
}

func parseS3URL(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url: %s", rawURL)
	}
	return parsed.Host, key, nil
}

// httpStatus 提取 SDK 错误中携带的 HTTP 状态码。
func httpStatus(err error) int {
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode()
	}
	return 0
}
