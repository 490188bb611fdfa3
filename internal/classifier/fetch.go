package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/logging"
)

// Fetcher makes sure the model file exists locally, downloading it from an
// http(s) or s3 URL when it does not.
type Fetcher struct {
	HTTPClient *http.Client
	// S3 is created on first use from AWSRegion when nil.
	S3        s3manageriface.DownloaderAPI
	AWSRegion string
	Logger    *zap.Logger
}

// NewS3Downloader builds an S3 downloader using the default credential chain.
func NewS3Downloader(region string) (s3manageriface.DownloaderAPI, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return s3manager.NewDownloader(sess), nil
}

// Ensure returns nil when path exists. Otherwise it downloads source into
// path, writing to a temporary sibling first so a partial download never
// appears under the final name.
func (f *Fetcher) Ensure(ctx context.Context, path, source string) error {
	logger := f.logger()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return logging.NewOperationError("classifier.stat_model", "", err)
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: %s", ErrModelMissing, path)
	}

	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("%w: invalid model url: %v", ErrModelMissing, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logging.NewOperationError("classifier.prepare_model_dir", "", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.part")
	if err != nil {
		return logging.NewOperationError("classifier.create_model_temp", "", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	logger.Info("downloading model", zap.String("source", redact(u)), zap.String("path", path))

	switch u.Scheme {
	case "http", "https":
		err = f.fetchHTTP(ctx, source, tmp)
	case "s3":
		err = f.fetchS3(ctx, u, tmp)
	default:
		err = fmt.Errorf("unsupported model url scheme %q", u.Scheme)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		wrapped := logging.NewOperationError("classifier.fetch_model", "", fmt.Errorf("%w: %v", ErrModelMissing, err))
		logger.Error("model download failed", zap.Error(wrapped))
		return wrapped
	}

	if err := os.Rename(tmpName, path); err != nil {
		return logging.NewOperationError("classifier.install_model", "", err)
	}
	logger.Info("model downloaded", zap.String("path", path))
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string, dst io.Writer) error {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty model download")
	}
	return nil
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL, dst io.WriterAt) error {
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return fmt.Errorf("s3 url must be s3://bucket/key, got %q", u.String())
	}
	if f.S3 == nil {
		downloader, err := NewS3Downloader(f.AWSRegion)
		if err != nil {
			return err
		}
		f.S3 = downloader
	}
	n, err := f.S3.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty model download")
	}
	return nil
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger.Named("model_fetcher")
}

func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
