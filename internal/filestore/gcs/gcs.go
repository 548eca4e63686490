// Package gcs stores receipts as Cloud Storage objects under
// <prefix>/YYYY/MM/.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"receipts/internal/core"
	"receipts/internal/filestore"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// maxNameAttempts bounds the suffix retries when names collide within a second.
const maxNameAttempts = 10

// Options tunes a Store.
type Options struct {
	Prefix string
	Now    func() time.Time
	Logger *slog.Logger
}

// Store implements filestore.Store on a Cloud Storage bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger

	// put writes one object and fails with a 412 when it already exists.
	put func(ctx context.Context, object string, att core.Attachment, body []byte) error
}

var _ filestore.Store = (*Store)(nil)

// New creates a store writing into bucket.
func New(ctx context.Context, bucket string, credentialsJSON []byte, opts Options, clientOpts ...option.ClientOption) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("missing GCS_BUCKET")
	}
	var all []option.ClientOption
	if len(credentialsJSON) > 0 {
		all = append(all, option.WithCredentialsJSON(credentialsJSON))
	}
	all = append(all, clientOpts...)

	client, err := storage.NewClient(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s := newStore(bucket, opts)
	s.client = client
	s.put = s.putObject
	return s, nil
}

func newStore(bucket string, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = filestore.Clock(time.UTC)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		bucket: bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Store writes body as a new object. A name already taken within the same
// second gets a numeric suffix.
func (s *Store) Store(ctx context.Context, att core.Attachment, body []byte) (filestore.StoredFile, error) {
	t := s.now()
	year, month := filestore.Folders(t)
	base := filestore.FileName(t, att.Extension())

	for n := 1; n <= maxNameAttempts; n++ {
		name := filestore.WithSuffix(base, n)
		object := objectName(s.prefix, year, month, name)

		err := s.put(ctx, object, att, body)
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return filestore.StoredFile{}, fmt.Errorf("upload %s: %w", object, err)
		}

		s.logger.InfoContext(ctx, "Receipt stored in Cloud Storage", "bucket", s.bucket, "object", object)
		return filestore.StoredFile{
			ID:       object,
			Name:     name,
			URL:      ObjectURL(s.bucket, object),
			MIMEType: att.MIMEType,
			Folder:   path.Join(year, month),
		}, nil
	}
	return filestore.StoredFile{}, fmt.Errorf("upload %s: no free object name after %d attempts", base, maxNameAttempts)
}

func (s *Store) putObject(ctx context.Context, object string, att core.Attachment, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(object).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = att.MIMEType
	w.Metadata = map[string]string{
		"source_file_id": att.ID,
		"original_name":  att.Name,
	}
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close releases the storage client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func objectName(prefix, year, month, name string) string {
	if prefix == "" {
		return path.Join(year, month, name)
	}
	return path.Join(prefix, year, month, name)
}

// ObjectURL is the browser link of an object, which requires the viewer to
// be signed in with access to the bucket.
func ObjectURL(bucket, object string) string {
	u := url.URL{Scheme: "https", Host: "storage.cloud.google.com", Path: "/" + bucket + "/" + object}
	return u.String()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
