package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
)

// DefaultPresignExpiry is how long presigned download URLs stay valid.
const DefaultPresignExpiry = 6 * time.Hour

// S3Lister lists bucket contents.
type S3Lister interface {
	s3.ListObjectsV2APIClient
}

// S3Presigner creates presigned GET requests.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3ClientFactory builds the lister and presigner for a profile's options.
type S3ClientFactory func(ctx context.Context, opts host.S3Options) (S3Lister, S3Presigner, error)

// Gate grants a rate-limited slot for one request to a host.
type Gate interface {
	Enter(ctx context.Context, hostname string) (release func(), err error)
}

// S3 lists s3://bucket/prefix and yields one presigned download per object.
type S3 struct {
	gate     Gate
	profiles ProfileSource
	factory  S3ClientFactory
	expiry   time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[host.S3Options]s3Clients
}

type s3Clients struct {
	lister    S3Lister
	presigner S3Presigner
}

// S3Option configures S3.
type S3Option func(*S3)

// WithS3Logger sets the logger.
func WithS3Logger(logger *slog.Logger) S3Option {
	return func(c *S3) {
		c.logger = logger
	}
}

// WithS3ClientFactory replaces the AWS SDK client factory.
func WithS3ClientFactory(f S3ClientFactory) S3Option {
	return func(c *S3) {
		c.factory = f
	}
}

// WithPresignExpiry sets the validity of presigned URLs.
func WithPresignExpiry(d time.Duration) S3Option {
	return func(c *S3) {
		if d > 0 {
			c.expiry = d
		}
	}
}

// NewS3 creates the S3 crawler. Each listing page waits on gate with the
// bucket name as host.
func NewS3(gate Gate, profiles ProfileSource, opts ...S3Option) *S3 {
	c := &S3{
		gate:     gate,
		profiles: profiles,
		factory:  NewS3Clients,
		expiry:   DefaultPresignExpiry,
		logger:   slog.Default(),
		clients:  make(map[host.S3Options]s3Clients),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Crawler.
func (c *S3) Name() string {
	return host.CrawlerS3
}

// NewS3Clients builds SDK clients from the shared AWS configuration,
// overridden by opts.
func NewS3Clients(ctx context.Context, opts host.S3Options) (S3Lister, S3Presigner, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return client, s3.NewPresignClient(client), nil
}

// Resolve implements Crawler.
func (c *S3) Resolve(ctx context.Context, in model.InputURL) iter.Seq2[model.ResolvedTarget, error] {
	return func(yield func(model.ResolvedTarget, error) bool) {
		bucket, prefix := parseS3URL(in.URL)
		if bucket == "" {
			yield(model.ResolvedTarget{}, newError(KindUnsupported, in.String(), errors.New("missing bucket")))
			return
		}

		prof := c.profiles.Match(bucket)
		clients, err := c.clientsFor(ctx, prof.S3)
		if err != nil {
			if ctx.Err() == nil {
				yield(model.ResolvedTarget{}, newError(KindAccessDenied, in.String(), err))
			}
			return
		}

		filter := newPathFilter(prof.IgnorePatterns, prof.FollowPatterns)
		base := listingBase(prefix)
		found := 0

		paginator := s3.NewListObjectsV2Paginator(clients.lister, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := c.nextPage(ctx, bucket, paginator)
			if err != nil {
				if ctx.Err() == nil {
					yield(model.ResolvedTarget{}, s3Error(in.String(), err))
				}
				return
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				if !filter.allows(&url.URL{Path: "/" + key}) {
					continue
				}
				t, err := c.target(ctx, clients.presigner, in, bucket, base, obj)
				if err != nil {
					if ctx.Err() == nil {
						yield(model.ResolvedTarget{}, s3Error(in.String(), err))
					}
					return
				}
				found++
				if !yield(t, nil) {
					return
				}
			}
		}

		if found == 0 && ctx.Err() == nil {
			yield(model.ResolvedTarget{}, newError(KindNotFound, in.String(), errors.New("no objects under prefix")))
		}
	}
}

func (c *S3) nextPage(ctx context.Context, bucket string, p *s3.ListObjectsV2Paginator) (*s3.ListObjectsV2Output, error) {
	release, err := c.gate.Enter(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.NextPage(ctx)
}

func (c *S3) target(ctx context.Context, presigner S3Presigner, in model.InputURL, bucket, base string, obj s3types.Object) (model.ResolvedTarget, error) {
	key := aws.ToString(obj.Key)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return model.ResolvedTarget{}, fmt.Errorf("presign %s: %w", key, err)
	}
	fetch, err := url.Parse(req.URL)
	if err != nil {
		return model.ResolvedTarget{}, fmt.Errorf("presigned url for %s: %w", key, err)
	}

	headers := make(http.Header, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if strings.EqualFold(k, "Host") {
			continue
		}
		headers[k] = v
	}

	t := model.ResolvedTarget{
		SourceURL:    in.URL,
		FetchURL:     fetch,
		RelPath:      joinRel(in.Folder, strings.TrimPrefix(key, base)),
		ExpectedSize: model.UnknownSize,
		ResourceID:   bucket + "/" + key,
		Headers:      headers,
		LastModified: aws.ToTime(obj.LastModified),
	}
	if obj.Size != nil {
		t.ExpectedSize = *obj.Size
	}
	// S3 ETags are only MD5 digests for single part uploads without
	// SSE-KMS, so they are compared as opaque validators.
	if etag := aws.ToString(obj.ETag); etag != "" {
		if !strings.HasPrefix(etag, `"`) {
			etag = `"` + etag + `"`
		}
		t.Identity = model.IdentityHint{Algorithm: model.IdentityETag, Value: etag}
	}
	return t, nil
}

func (c *S3) clientsFor(ctx context.Context, opts host.S3Options) (s3Clients, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[opts]; ok {
		return cl, nil
	}
	lister, presigner, err := c.factory(ctx, opts)
	if err != nil {
		return s3Clients{}, err
	}
	cl := s3Clients{lister: lister, presigner: presigner}
	c.clients[opts] = cl
	return cl, nil
}

// parseS3URL splits s3://bucket/prefix.
func parseS3URL(u *url.URL) (bucket, prefix string) {
	if u == nil {
		return "", ""
	}
	return u.Host, strings.TrimPrefix(u.Path, "/")
}

// listingBase is the part of prefix stripped from keys to build relative
// paths: the prefix itself when it names a folder, its parent otherwise.
func listingBase(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	dir := path.Dir(prefix)
	if dir == "." {
		return ""
	}
	return dir + "/"
}

// s3Error classifies an error returned by the AWS SDK.
func s3Error(rawURL string, err error) error {
	var noBucket *s3types.NoSuchBucket
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noBucket) || errors.As(err, &noKey) {
		return newError(KindNotFound, rawURL, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return newError(KindNotFound, rawURL, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "AllAccessDisabled":
			return newError(KindAccessDenied, rawURL, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return newError(KindTransient, rawURL, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		e := statusError(rawURL, respErr.HTTPStatusCode(), 0)
		e.Err = err
		return e
	}
	return newError(KindTransient, rawURL, err)
}
