package objectstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	tagScanStatus = "ScanStatus"
	tagScanDate   = "ScanDate"
	tagFileHash   = "FileHash"
	tagVirusName  = "VirusName"

	statusClean    = "CLEAN"
	statusInfected = "INFECTED"
)

// objectAPI is the slice of the S3 client the gateway needs. Narrowed
// for test fakes.
type objectAPI interface {
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, opts ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

type downloadAPI interface {
	Download(ctx context.Context, w io.WriterAt, in *s3.GetObjectInput, opts ...func(*manager.Downloader)) (int64, error)
}

// S3Gateway implements Gateway against S3-compatible object storage.
type S3Gateway struct {
	api              objectAPI
	downloader       downloadAPI
	quarantineBucket string
	quarantinePrefix string
	scratchDir       string
	now              func() time.Time
}

func NewS3Gateway(api objectAPI, downloader downloadAPI, quarantineBucket, quarantinePrefix, scratchDir string) *S3Gateway {
	if quarantinePrefix == "" {
		quarantinePrefix = "infected"
	}
	return &S3Gateway{
		api:              api,
		downloader:       downloader,
		quarantineBucket: quarantineBucket,
		quarantinePrefix: quarantinePrefix,
		scratchDir:       scratchDir,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (g *S3Gateway) Fetch(ctx context.Context, bucket, key string) (string, error) {
	local := filepath.Join(g.scratchDir, "avsentry-"+uuid.NewString())
	file, err := os.Create(local)
	if err != nil {
		return "", errors.Wrap(err, "allocate local copy")
	}

	_, err = g.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(local)
		return "", classify(errors.Wrapf(err, "fetch s3://%s/%s", bucket, key))
	}
	return local, nil
}

func (g *S3Gateway) TagClean(ctx context.Context, bucket, key, digest string) error {
	scanDate := g.now().Format(time.RFC3339)
	_, err := g.api.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Tagging: &types.Tagging{TagSet: []types.Tag{
			{Key: aws.String(tagScanStatus), Value: aws.String(statusClean)},
			{Key: aws.String(tagScanDate), Value: aws.String(scanDate)},
			{Key: aws.String(tagFileHash), Value: aws.String(digest)},
		}},
	})
	if err != nil {
		return classify(errors.Wrapf(err, "tag clean s3://%s/%s", bucket, key))
	}
	return nil
}

func (g *S3Gateway) Quarantine(ctx context.Context, bucket, key, digest, signature string) (string, error) {
	now := g.now()
	// The digest in the key makes repeated quarantine attempts for the
	// same content land on the same object.
	quarantineKey := path.Join(g.quarantinePrefix, now.Format("2006/01/02"), digest+"_"+path.Base(key))

	_, err := g.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.quarantineBucket),
		Key:        aws.String(quarantineKey),
		CopySource: aws.String(copySource(bucket, key)),
		Metadata: map[string]string{
			"virus-name":      signature,
			"original-bucket": bucket,
			"original-key":    key,
			"quarantine-date": now.Format(time.RFC3339),
			"file-hash":       digest,
		},
		MetadataDirective:    types.MetadataDirectiveReplace,
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", classify(errors.Wrapf(err, "quarantine copy s3://%s/%s", bucket, key))
	}

	_, err = g.api.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Tagging: &types.Tagging{TagSet: []types.Tag{
			{Key: aws.String(tagScanStatus), Value: aws.String(statusInfected)},
			{Key: aws.String(tagVirusName), Value: aws.String(signature)},
			{Key: aws.String(tagScanDate), Value: aws.String(now.Format(time.RFC3339))},
		}},
	})
	if err != nil {
		return "", classify(errors.Wrapf(err, "tag infected s3://%s/%s", bucket, key))
	}

	return "s3://" + g.quarantineBucket + "/" + quarantineKey, nil
}

// copySource renders "bucket/key" with the key percent-encoded the way
// CopyObject expects, leaving path separators intact.
func copySource(bucket, key string) string {
	u := url.URL{Path: "/" + bucket + "/" + key}
	return strings.TrimPrefix(u.EscapedPath(), "/")
}

// classify marks service errors with the taxonomy sentinels so callers
// can route on them without knowing SDK error types.
func classify(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errors.Mark(err, ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errors.Mark(err, ErrNotFound)
		case "AccessDenied":
			return errors.Mark(err, ErrAccessDenied)
		}
	}
	return err
}
