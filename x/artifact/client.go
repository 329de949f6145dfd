// Package artifact moves zkey artifacts between memory and the ceremony
// object storage bucket: streamed downloads with progress reporting and
// resumable multipart uploads with per-part acknowledgement.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/status"
)

const (
	// DefaultPartSize is the multipart chunk size (50 MiB).
	DefaultPartSize = int64(50 * 1024 * 1024)

	// downloadRetries bounds whole-file retries on transport failure.
	downloadRetries = 3

	defaultDownloadConcurrency = 4
	retryBaseDelay             = time.Second
)

// Config holds object storage access parameters.
type Config struct {
	Region          string `mapstructure:"region"            yaml:"region"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	PartSize        int64  `mapstructure:"part_size"         yaml:"part_size"`
	Concurrency     int    `mapstructure:"concurrency"       yaml:"concurrency"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"  yaml:"force_path_style"`
}

// Journal persists multipart upload state remotely after each step, so a
// relaunched client can resume past acknowledged parts.
type Journal interface {
	SaveUploadID(ctx context.Context, uploadID string) error
	SaveChunk(ctx context.Context, chunk ceremony.ETagPart) error
}

// Client is the S3-backed artifact store.
type Client struct {
	s3         *s3.Client
	downloader *manager.Downloader
	partSize   int64
	log        zerolog.Logger
}

// New builds an artifact client. Static credentials are used when provided;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDownloadConcurrency
	}

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = partSize
		d.Concurrency = concurrency
	})

	return &Client{
		s3:         client,
		downloader: downloader,
		partSize:   partSize,
		log:        log.With().Str("component", "artifact-client").Logger(),
	}, nil
}

// Download streams an object into memory, reporting progress to the sink.
// Transport failures retry the whole file with fibonacci backoff.
func (c *Client) Download(ctx context.Context, bucket, key string, sink status.Sink) ([]byte, error) {
	head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: head %s/%s: %w", bucket, key, err)
	}
	size := head.ContentLength

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	backoff := retry.WithMaxRetries(downloadRetries, retry.NewFibonacci(retryBaseDelay))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		progress := newProgressWriter(buf, size, func(pct int) {
			sink.Emit(status.Update{
				Message: fmt.Sprintf("Downloading %s (%d%%)", key, pct),
				Busy:    true,
			})
		})
		if _, err := c.downloader.Download(ctx, progress, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("download attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: download %s/%s: %w", bucket, key, err)
	}

	c.log.Info().Str("key", key).Int("bytes", len(buf.Bytes())).Msg("artifact downloaded")
	return buf.Bytes(), nil
}

// MultipartUpload uploads data in fixed-size parts. Parts already present
// in resume are skipped; every newly uploaded part is acknowledged through
// the journal before the next one starts, and completion finalizes the
// object.
func (c *Client) MultipartUpload(
	ctx context.Context,
	bucket, key string,
	data []byte,
	resume *ceremony.TempContributionData,
	journal Journal,
	sink status.Sink,
) error {
	uploadID := ""
	uploaded := make(map[int32]string)
	if resume != nil {
		uploadID = resume.UploadID
		for _, chunk := range resume.Chunks {
			uploaded[chunk.Number] = chunk.ETag
		}
	}

	if uploadID == "" {
		out, err := c.s3.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("artifact: create multipart upload: %w", err)
		}
		uploadID = aws.ToString(out.UploadId)
		if err := journal.SaveUploadID(ctx, uploadID); err != nil {
			return fmt.Errorf("artifact: persist upload id: %w", err)
		}
	}

	parts := planParts(int64(len(data)), c.partSize)
	completed := make([]types.CompletedPart, 0, len(parts))

	for _, part := range parts {
		if etag, ok := uploaded[part.Number]; ok {
			completed = append(completed, types.CompletedPart{
				ETag:       aws.String(etag),
				PartNumber: part.Number,
			})
			continue
		}

		sink.Emit(status.Update{
			Message: fmt.Sprintf("Uploading %s (part %d/%d)", key, part.Number, len(parts)),
			Busy:    true,
		})

		out, err := c.s3.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: part.Number,
			Body:       bytes.NewReader(data[part.From:part.To]),
		})
		if err != nil {
			return fmt.Errorf("artifact: upload part %d: %w", part.Number, err)
		}

		etag := aws.ToString(out.ETag)
		if err := journal.SaveChunk(ctx, ceremony.ETagPart{Number: part.Number, ETag: etag}); err != nil {
			return fmt.Errorf("artifact: acknowledge part %d: %w", part.Number, err)
		}
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: part.Number,
		})
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].PartNumber < completed[j].PartNumber })

	if _, err := c.s3.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	}); err != nil {
		return fmt.Errorf("artifact: complete multipart upload: %w", err)
	}

	c.log.Info().Str("key", key).Int("parts", len(parts)).Msg("artifact uploaded")
	return nil
}

// progressWriter counts bytes written through a WriterAt and reports each
// crossed 10% threshold once.
type progressWriter struct {
	inner   interface{ WriteAt(p []byte, off int64) (int, error) }
	total   int64
	report  func(pct int)
	mu      sync.Mutex
	written int64
	lastPct int
}

func newProgressWriter(inner *manager.WriteAtBuffer, total int64, report func(pct int)) *progressWriter {
	return &progressWriter{inner: inner, total: total, report: report, lastPct: -1}
}

func (p *progressWriter) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.inner.WriteAt(b, off)
	if n > 0 && p.total > 0 {
		p.mu.Lock()
		p.written += int64(n)
		pct := int(p.written * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct/10 > p.lastPct/10 || p.lastPct < 0 {
			p.lastPct = pct
			p.mu.Unlock()
			p.report(pct)
			return n, err
		}
		p.mu.Unlock()
	}
	return n, err
}
