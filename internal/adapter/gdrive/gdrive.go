package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
	"github.com/Ning0612/drivewatch/internal/retry"
)

const (
	// MimeTypeFolder is the MIME type for Google Drive folders
	MimeTypeFolder = domain.MimeTypeFolder
	// DefaultPageSize is the number of files to fetch per request
	DefaultPageSize = 100
	// MaxPageSize is the largest page the Drive API accepts
	MaxPageSize = 1000

	entryFields = "id, name, parents, mimeType, modifiedTime, createdTime, size, md5Checksum"
	listFields  = "nextPageToken, files(" + entryFields + ")"
)

// Options configures a Client
type Options struct {
	PageSize int64
	Retry    retry.Config
	Logger   logger.Logger
}

// Client talks to the Drive v3 API. It implements adapter.Source and
// adapter.ContentReader; Writer returns an adapter.ContentWriter.
type Client struct {
	service  *drive.Service
	pageSize int64
	retry    retry.Config
	log      logger.Logger
}

// New creates a client from an authenticated HTTP client
func New(ctx context.Context, httpClient *http.Client, opts Options) (*Client, error) {
	service, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return NewWithService(service, opts), nil
}

// NewWithService wraps an existing Drive service
func NewWithService(service *drive.Service, opts Options) *Client {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	return &Client{
		service:  service,
		pageSize: pageSize,
		retry:    opts.Retry,
		log:      logger.OrNull(opts.Logger).With("component", "gdrive"),
	}
}

// ListChildren returns one page of parentID's children, newest modification first
func (c *Client) ListChildren(ctx context.Context, parentID, pageToken string) (domain.Page, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryString(parentID))

	fileList, err := retry.DoWithResult(ctx, c.retry, func() (*drive.FileList, error) {
		call := c.service.Files.List().
			Q(query).
			Spaces("drive").
			OrderBy("modifiedTime desc").
			PageSize(c.pageSize).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(listFields)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		fl, err := call.Context(ctx).Do()
		return fl, c.mapError(err)
	})
	metrics.RemoteCalls.WithLabelValues("list", callStatus(err)).Inc()
	if err != nil {
		return domain.Page{}, fmt.Errorf("list children of %s: %w", parentID, err)
	}

	page := domain.Page{
		Entries:       make([]domain.RemoteEntry, 0, len(fileList.Files)),
		NextPageToken: fileList.NextPageToken,
	}
	for _, f := range fileList.Files {
		entry, err := entryFromDrive(f)
		if err != nil {
			return domain.Page{}, err
		}
		page.Entries = append(page.Entries, entry)
	}

	c.log.Debug("listed page", "parent_id", parentID, "entries", len(page.Entries), "has_next", page.NextPageToken != "")
	return page, nil
}

// GetEntry returns the metadata of a single file or folder
func (c *Client) GetEntry(ctx context.Context, id string) (domain.RemoteEntry, error) {
	file, err := retry.DoWithResult(ctx, c.retry, func() (*drive.File, error) {
		f, err := c.service.Files.Get(id).
			SupportsAllDrives(true).
			Fields(entryFields).
			Context(ctx).Do()
		return f, c.mapError(err)
	})
	metrics.RemoteCalls.WithLabelValues("get", callStatus(err)).Inc()
	if err != nil {
		return domain.RemoteEntry{}, fmt.Errorf("get %s: %w", id, err)
	}
	return entryFromDrive(file)
}

// Read downloads the raw content of a file
func (c *Client) Read(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := retry.DoWithResult(ctx, c.retry, func() (*http.Response, error) {
		r, err := c.service.Files.Get(fileID).
			SupportsAllDrives(true).
			Context(ctx).Download()
		return r, c.mapError(err)
	})
	metrics.RemoteCalls.WithLabelValues("download", callStatus(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	return resp.Body, nil
}

// Writer returns a content writer placing files under outputFolderID
func (c *Client) Writer(outputFolderID string) *Writer {
	return &Writer{
		client: c,
		rootID: outputFolderID,
		cache:  newIDCache(),
	}
}

// escapeQueryString escapes special characters in Drive query strings
func escapeQueryString(s string) string {
	// Escape backslash first, then single quote
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

// entryFromDrive converts a Drive file to a domain.RemoteEntry, validating
// the fields the watcher relies on
func entryFromDrive(f *drive.File) (domain.RemoteEntry, error) {
	if f == nil || f.Id == "" {
		return domain.RemoteEntry{}, fmt.Errorf("%w: id", domain.ErrMissingField)
	}

	modified, err := parseTime(f.ModifiedTime)
	if err != nil {
		return domain.RemoteEntry{}, fmt.Errorf("%w: modifiedTime of %s: %v", domain.ErrMissingField, f.Id, err)
	}
	// createdTime is informational; a missing one stays zero
	created, _ := parseTime(f.CreatedTime)

	entry := domain.RemoteEntry{
		ID:           f.Id,
		Name:         f.Name,
		ParentIDs:    append([]string(nil), f.Parents...),
		ModifiedTime: modified,
		CreatedTime:  created,
		MimeType:     f.MimeType,
		MD5Checksum:  f.Md5Checksum,
	}
	if !entry.IsNative() {
		size := f.Size
		entry.Size = &size
	}
	return entry, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}

// mapError converts Google API errors to domain errors, marking transient
// failures as retryable
func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return domain.ErrNotFound
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, "fileNotDownloadable"):
			// Native documents can only be exported, not downloaded
			return domain.ErrNotFile
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded"):
			return retry.Retryable(fmt.Errorf("%w: %w", domain.ErrRateLimited, err))
		case apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		case apiErr.Code == http.StatusConflict:
			return domain.ErrAlreadyExists
		case apiErr.Code == http.StatusTooManyRequests:
			return retry.Retryable(fmt.Errorf("%w: %w", domain.ErrRateLimited, err))
		case apiErr.Code >= 500:
			return retry.Retryable(fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err))
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retryable(fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retryable(fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err))
	}

	// Fallback to string matching for non-googleapi errors
	if strings.Contains(err.Error(), "notFound") {
		return domain.ErrNotFound
	}

	return err
}

// hasReason reports whether the API error carries one of the given reasons
func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Compile-time interface checks
var (
	_ adapter.Source        = (*Client)(nil)
	_ adapter.ContentReader = (*Client)(nil)
)
