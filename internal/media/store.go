package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

// Store is the default Fetcher and Uploader. The Cloud Storage client is
// created on first use so http-only deployments need no Google credentials.
type Store struct {
	httpClient *http.Client

	mu            sync.Mutex
	storageClient *storage.Client
	ownsStorage   bool
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient overrides the client used for http(s) references.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// WithStorageClient injects a Cloud Storage client. The Store does not close it.
func WithStorageClient(c *storage.Client) Option {
	return func(s *Store) { s.storageClient = c }
}

// NewStore creates a new media store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the Cloud Storage client if the store created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsStorage && s.storageClient != nil {
		err := s.storageClient.Close()
		s.storageClient = nil
		return err
	}
	return nil
}

func (s *Store) storage(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storageClient != nil {
		return s.storageClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s.storageClient = client
	s.ownsStorage = true
	return client, nil
}

// Fetch implements Fetcher.
func (s *Store) Fetch(ctx context.Context, ref string) (*Resource, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("Fetch: parse reference: %w", err)
	}

	switch u.Scheme {
	case "gs":
		return s.fetchFromGCS(ctx, ref)
	case "http", "https":
		return s.fetchFromHTTP(ctx, ref)
	case "data":
		return decodeDataURL(ref)
	default:
		return nil, fmt.Errorf("Fetch: %w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// fetchFromGCS downloads the object bytes from the given GCS URI.
func (s *Store) fetchFromGCS(ctx context.Context, gcsURI string) (*Resource, error) {
	bucketName, objectPath, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	client, err := s.storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: %w", err)
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := readLimited(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: %w", err)
	}

	name := ExtractFilename(gcsURI)
	return &Resource{
		Name:     name,
		MIMEType: detectMIMEType(rc.Attrs.ContentType, name, data),
		Data:     data,
	}, nil
}

func (s *Store) fetchFromHTTP(ctx context.Context, rawURL string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchFromHTTP: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchFromHTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetchFromHTTP: unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetchFromHTTP: %w", err)
	}

	name := ExtractFilename(rawURL)
	return &Resource{
		Name:     name,
		MIMEType: detectMIMEType(resp.Header.Get("Content-Type"), name, data),
		Data:     data,
	}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// ReadFile loads a local file as a Resource, so it can be passed on as a
// data: URI.
func ReadFile(filePath string) (*Resource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("ReadFile: %w", err)
	}
	defer f.Close()

	data, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("ReadFile %q: %w", filePath, err)
	}
	return &Resource{
		Name:     filepath.Base(filePath),
		MIMEType: detectMIMEType("", filePath, data),
		Data:     data,
	}, nil
}

// UploadFile uploads a local file to a GCS bucket under the given object name.
// It assumes Application Default Credentials are configured.
func (s *Store) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := s.storage(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = detectMIMEType("", filePath, nil)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	return nil
}

var (
	_ Fetcher  = (*Store)(nil)
	_ Uploader = (*Store)(nil)
)
