package geminibot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedAttachment indicates a message attachment of a type
	// the Gemini API can't consume. Detected before any download or API
	// call is attempted.
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")

	// ErrAttachmentTooLarge indicates an attachment over the inline data
	// limit. Detected from the reported size, before any download.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrAttachmentDownload indicates the attachment's CDN URL couldn't
	// be fetched.
	ErrAttachmentDownload = errors.New("unable to download attachment")
)

// maxAttachmentBytes caps a single attachment at the Gemini API's
// inline request data limit.
const maxAttachmentBytes = 20 << 20

// Extensions mapped to image/<ext> and audio/<ext> MIME types, plus
// text and application types with explicit mappings. Anything else is
// rejected.
var (
	imageExtensions = []string{
		".png", ".jpeg", ".jpg", ".heic", ".webp", ".heif",
	}
	audioExtensions = []string{
		".wav", ".mp3", ".aiff", ".aac", ".ogg", ".flac",
	}
	textExtensions = []string{
		".html", ".css", ".md", ".csv", ".xml", ".rtf",
	}
	applicationMIMETypes = map[string]string{
		".pdf": "application/pdf",
		".js":  "application/x-javascript",
		".py":  "application/x-python",
	}
)

// attachmentMIMEType returns the MIME type for a supported attachment
// filename, or an empty string for unsupported types.
func attachmentMIMEType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range imageExtensions {
		if ext == e {
			return "image/" + strings.TrimPrefix(ext, ".")
		}
	}
	for _, e := range audioExtensions {
		if ext == e {
			return "audio/" + strings.TrimPrefix(ext, ".")
		}
	}
	for _, e := range textExtensions {
		if ext == e {
			return "text/" + strings.TrimPrefix(ext, ".")
		}
	}
	return applicationMIMETypes[ext]
}

// AttachmentPreprocessor downloads supported Discord attachments and
// converts them into inline media parts for the Gemini API.
type AttachmentPreprocessor struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAttachmentPreprocessor(
	httpClient *http.Client,
	logger *slog.Logger,
) *AttachmentPreprocessor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentPreprocessor{
		httpClient: httpClient,
		logger:     logger.With(loggerNameKey, "attachments"),
	}
}

// Process converts the message's attachments into media parts. All
// attachment types are checked before any download starts, so an
// unsupported attachment is rejected without any network call.
func (a *AttachmentPreprocessor) Process(
	ctx context.Context,
	attachments []*discordgo.MessageAttachment,
) ([]Part, error) {
	mimeTypes := make([]string, len(attachments))
	for i, att := range attachments {
		mimeType := attachmentMIMEType(att.Filename)
		if mimeType == "" {
			return nil, fmt.Errorf(
				"%w: %s",
				ErrUnsupportedAttachment,
				att.Filename,
			)
		}
		if att.Size > maxAttachmentBytes {
			return nil, fmt.Errorf(
				"%w: %s (%d bytes)",
				ErrAttachmentTooLarge,
				att.Filename,
				att.Size,
			)
		}
		mimeTypes[i] = mimeType
	}

	parts := make([]Part, 0, len(attachments))
	for i, att := range attachments {
		data, err := a.download(ctx, att.URL)
		if err != nil {
			return nil, err
		}
		a.logger.InfoContext(
			ctx,
			"processed attachment",
			"filename", att.Filename,
			"mime_type", mimeTypes[i],
			"size", len(data),
		)
		parts = append(parts, MediaPart(mimeTypes[i], data))
	}
	return parts, nil
}

func (a *AttachmentPreprocessor) download(
	ctx context.Context,
	url string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentDownload, err.Error())
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentDownload, err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: unexpected status %d",
			ErrAttachmentDownload,
			resp.StatusCode,
		)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentDownload, err.Error())
	}
	return data, nil
}
