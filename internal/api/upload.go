package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	uploadField     = "file"
	uploadURLPrefix = "/uploads/"
	// multipartSlack covers boundaries and part headers around the file.
	multipartSlack = 1 << 20
	memoryLimit    = 32 << 20
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// UploadHandler stores attachments on disk and serves them back.
type UploadHandler struct {
	dir     string
	maxSize uint64
}

// NewUploadHandler creates an upload handler writing into dir.
func NewUploadHandler(dir string, maxSize uint64) *UploadHandler {
	return &UploadHandler{dir: dir, maxSize: maxSize}
}

// RegisterRoutes registers the upload and download routes.
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Handle(uploadURLPrefix+"*", http.StripPrefix(uploadURLPrefix, http.FileServer(filesOnly{http.Dir(h.dir)})))
}

// filesOnly hides directories so the upload folder cannot be listed.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

// Upload accepts one multipart file and returns its attachment descriptor.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxSize)+multipartSlack)
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file exceeds "+humanize.Bytes(h.maxSize))
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		Error(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > int64(h.maxSize) {
		Error(w, http.StatusRequestEntityTooLarge, "file exceeds "+humanize.Bytes(h.maxSize))
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	stored := uuid.NewString() + ext

	n, err := h.save(stored, file)
	if err != nil {
		slog.Error("Failed to store upload", "error", err, "name", header.Filename)
		Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "application/octet-stream"
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		}
	}

	slog.Info("File uploaded",
		"name", header.Filename,
		"stored_as", stored,
		"size", humanize.Bytes(uint64(n)),
		"ip", r.RemoteAddr)

	JSON(w, http.StatusOK, domain.Attachment{
		URL:  uploadURLPrefix + stored,
		Type: contentType,
		Name: filepath.Base(header.Filename),
	})
}

func (h *UploadHandler) save(name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return 0, fmt.Errorf("create upload directory: %w", err)
	}
	dst, err := os.OpenFile(filepath.Join(h.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return 0, fmt.Errorf("write upload file: %w", err)
	}
	return n, nil
}
