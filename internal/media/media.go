// Package media fetches the images and audio clips referenced by extraction
// requests and uploads local files to Cloud Storage.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// MaxSize caps how many bytes a single resource may have. It matches the
// upload limit of the Whisper transcription endpoint.
const MaxSize = 25 << 20

var (
	// ErrUnsupportedScheme is returned for references that are not gs://,
	// http(s):// or data: URIs.
	ErrUnsupportedScheme = errors.New("unsupported media reference scheme")
	// ErrTooLarge is returned when a resource exceeds MaxSize.
	ErrTooLarge = errors.New("media resource exceeds size limit")
)

// Resource is a fetched media payload.
type Resource struct {
	Name     string
	MIMEType string
	Data     []byte
}

// DataURL encodes the resource as a base64 data: URI.
func (r *Resource) DataURL() string {
	return "data:" + r.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// Fetcher resolves a media reference into bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Resource, error)
}

// Uploader stores local files in a bucket.
type Uploader interface {
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error
}

// IsRemoteURL reports whether ref is an http(s) URL that a hosted model
// can download by itself.
func IsRemoteURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractFilename returns the last path element of a gs:// or http(s) URI.
// e.g., "gs://bucket/folder/file.m4a" → "file.m4a"
func ExtractFilename(uri string) string {
	if strings.HasPrefix(uri, "gs://") {
		trimmed := strings.TrimPrefix(uri, "gs://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	if u, err := url.Parse(uri); err == nil && u.Path != "" && u.Path != "/" {
		return path.Base(u.Path)
	}
	return ""
}

// parseGCSURI splits gs://bucket/object into its parts.
func parseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// decodeDataURL parses data:[<mime>][;base64],<payload>.
func decodeDataURL(ref string) (*Resource, error) {
	rest := strings.TrimPrefix(ref, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("decodeDataURL: missing comma separator")
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "text/plain"
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decodeDataURL: decode base64: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decodeDataURL: unescape payload: %w", err)
		}
		data = []byte(unescaped)
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}

	return &Resource{MIMEType: mimeType, Data: data}, nil
}

// detectMIMEType prefers the declared type, then the file extension, then
// content sniffing.
func detectMIMEType(declared, name string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	if ext := path.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
				return mediaType
			}
		}
	}
	sniffed := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}
	return "application/octet-stream"
}
