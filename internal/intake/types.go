package intake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a FileDescriptor.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Payload is a caller-owned handle to file content and its metadata.
// The engine references payloads, it never copies their content.
type Payload interface {
	Name() string
	Size() int64
	MediaType() string
	Open() (io.ReadCloser, error)
}

// FileDescriptor is the engine's record for an accepted file.
type FileDescriptor struct {
	ID               string  `json:"id"`
	Payload          Payload `json:"-"`
	Name             string  `json:"name"`
	Size             int64   `json:"size"`
	MediaType        string  `json:"mediaType"`
	Status           Status  `json:"status"`
	Progress         int     `json:"progress"`
	RemoteReference  string  `json:"remoteReference,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	PreviewReference string  `json:"previewReference,omitempty"`
}

// IsImage reports whether the descriptor's media type is an image type.
func (d FileDescriptor) IsImage() bool {
	return isImageType(d.MediaType)
}

// Patch is a partial update applied by UpdateDescriptor. Nil fields are left unchanged.
type Patch struct {
	Payload         Payload
	Status          *Status
	Progress        *int
	RemoteReference *string
	ErrorMessage    *string
}

// Constraints are the caller-supplied acceptance rules. They are read-only to the engine.
type Constraints struct {
	// MaxFileSize is the per-file byte limit; 0 disables the check.
	MaxFileSize int64 `json:"maxFileSize" yaml:"max_file_size" validate:"min=0"`
	// Accept is a comma separated media-type pattern list ("*" accepts anything).
	Accept   string `json:"accept" yaml:"accept"`
	Multiple bool   `json:"multiple" yaml:"multiple"`
	MaxFiles int    `json:"maxFiles" yaml:"max_files" validate:"gte=1"`
	Preview  bool   `json:"preview" yaml:"preview"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// DefaultMaxFiles is the accepted-count limit used when none is configured.
const DefaultMaxFiles = 5

// DefaultConstraints accepts anything, one file at a time, with previews on.
func DefaultConstraints() Constraints {
	return Constraints{
		Accept:   "*",
		MaxFiles: DefaultMaxFiles,
		Preview:  true,
	}
}

var validate = validator.New()

// Validate checks the constraint values themselves.
func (c Constraints) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid constraints: %w", err)
	}
	return nil
}

// BytesPayload is an in-memory payload.
type BytesPayload struct {
	name      string
	mediaType string
	data      []byte
}

// NewBytesPayload wraps data. When mediaType is empty or generic the type is
// sniffed from the content.
func NewBytesPayload(name, mediaType string, data []byte) *BytesPayload {
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(data).String()
	}
	return &BytesPayload{name: name, mediaType: mediaType, data: data}
}

func (p *BytesPayload) Name() string      { return p.name }
func (p *BytesPayload) Size() int64       { return int64(len(p.data)) }
func (p *BytesPayload) MediaType() string { return p.mediaType }

func (p *BytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

// FilePayload references a file on the local filesystem.
type FilePayload struct {
	path      string
	size      int64
	mediaType string
}

// NewFilePayload stats path and sniffs its media type.
func NewFilePayload(path string) (*FilePayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect media type of %s: %w", path, err)
	}

	return &FilePayload{
		path:      path,
		size:      info.Size(),
		mediaType: mt.String(),
	}, nil
}

func (p *FilePayload) Name() string      { return filepath.Base(p.path) }
func (p *FilePayload) Size() int64       { return p.size }
func (p *FilePayload) MediaType() string { return p.mediaType }
func (p *FilePayload) Path() string      { return p.path }

func (p *FilePayload) Open() (io.ReadCloser, error) {
	return os.Open(p.path)
}

// remotePayload stands in for content that already lives behind a remote reference.
type remotePayload struct {
	name      string
	mediaType string
}

func (p remotePayload) Name() string      { return p.name }
func (p remotePayload) Size() int64       { return 0 }
func (p remotePayload) MediaType() string { return p.mediaType }

func (p remotePayload) Open() (io.ReadCloser, error) {
	return nil, fmt.Errorf("%s: content is remote", p.name)
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}
