package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	appLog "contentcal/internal/log"
)

const uploadsPrefix = "/uploads/"

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".avif": "image/avif",
}

type uploadedImage struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type uploadResponse struct {
	Message string        `json:"message"`
	Image   uploadedImage `json:"image"`
}

// handleUpload stores the multipart "image" field under cfg.UploadDir and
// records it in the images table.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := s.cfg.MaxUploadBytes()
	// multipart framing needs a little room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("image exceeds %d bytes", limit))
			return
		}
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	if header.Size > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("image exceeds %d bytes", limit))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	ctype := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ctype); err == nil {
		ctype = mt
	}
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ctype, "image/") {
		writeError(w, http.StatusBadRequest, "only image files are allowed")
		return
	}
	// SVG can carry script and is served from this origin.
	if ctype == "image/svg+xml" || strings.EqualFold(filepath.Ext(header.Filename), ".svg") {
		writeError(w, http.StatusBadRequest, "SVG images are not allowed")
		return
	}

	name := uploadName(header.Filename, time.Now())
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		appLog.Error("upload: create dir failed", err, "dir", s.cfg.UploadDir)
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	dst := filepath.Join(s.cfg.UploadDir, name)
	if err := atomic.WriteFile(dst, bytes.NewReader(data)); err != nil {
		appLog.Error("upload: write failed", err, "path", dst)
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	img, err := s.store.CreateImage(r.Context(), header.Filename, dst)
	if err != nil {
		appLog.Error("upload: record failed", err, "path", dst)
		_ = os.Remove(dst)
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	appLog.Info("image uploaded", "id", img.ID, "file", name, "bytes", len(data))
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: "Image uploaded successfully",
		Image: uploadedImage{
			ID:       img.ID,
			Filename: name,
			URL:      uploadsPrefix + name,
		},
	})
}

// uploadName returns image-<unix millis>-<random><ext>. The extension is
// taken from the client name, lowercased, and dropped if it is not a known
// image type.
func uploadName(clientName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(clientName))
	if _, ok := imageTypes[ext]; !ok {
		ext = ""
	}
	return fmt.Sprintf("image-%d-%d%s", now.UnixMilli(), uuid.New().ID()%1_000_000_000, ext)
}

// uploadsHandler serves stored images. Directory listings are refused.
func (s *Server) uploadsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		name := strings.TrimPrefix(r.URL.Path, uploadsPrefix)
		if name == "" || strings.Contains(name, "/") || name != path.Base(name) || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}

		p := filepath.Join(s.cfg.UploadDir, name)
		f, err := os.Open(p)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil || st.IsDir() {
			http.NotFound(w, r)
			return
		}

		if ct, ok := imageTypes[strings.ToLower(filepath.Ext(name))]; ok {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", "attachment")
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, name, st.ModTime(), f)
	})
}
