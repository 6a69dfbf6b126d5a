package httpadapter

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
)

const sniffLen = 512

func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	session := rt.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

func (rt *Router) session(w http.ResponseWriter, r *http.Request) (*usecase.QueueManager, bool) {
	session, err := rt.sessions.Get(r.PathValue("sessionId"))
	if err != nil {
		rt.writeError(w, r, err)
		return nil, false
	}
	return session, true
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (rt *Router) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.Delete(r.Context(), r.PathValue("sessionId")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) resetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	session.Reset(r.Context())
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (rt *Router) addFiles(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart form with field 'files' is required"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'files' is required"})
		return
	}

	uploads := make([]domain.Upload, 0, len(headers))
	for _, header := range headers {
		upload, closeFn, err := openUpload(header)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		defer closeFn()
		uploads = append(uploads, upload)
	}

	report, err := session.AddFiles(r.Context(), uploads)
	if domain.IsKind(err, domain.ErrQueueFull) {
		writeJSON(w, http.StatusUnprocessableEntity, queueFullResponse{Error: err.Error(), Rejected: report.Rejected})
		return
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type queueFullResponse struct {
	Error    string             `json:"error"`
	Rejected []domain.Rejection `json:"rejected"`
}

// openUpload falls back to content sniffing when the client sent no usable
// part content type.
func openUpload(header *multipart.FileHeader) (domain.Upload, func(), error) {
	file, err := header.Open()
	if err != nil {
		return domain.Upload{}, nil, fmt.Errorf("open part %s: %w", header.Filename, err)
	}
	closeFn := func() { _ = file.Close() }

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(file, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			closeFn()
			return domain.Upload{}, nil, fmt.Errorf("read part %s: %w", header.Filename, err)
		}
		mimeType = http.DetectContentType(head[:n])
		return domain.Upload{
			Name:      header.Filename,
			MimeType:  mimeType,
			SizeBytes: header.Size,
			Body:      io.MultiReader(bytes.NewReader(head[:n]), file),
		}, closeFn, nil
	}

	return domain.Upload{
		Name:      header.Filename,
		MimeType:  mimeType,
		SizeBytes: header.Size,
		Body:      file,
	}, closeFn, nil
}

func (rt *Router) removeFile(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	if err := session.RemoveFile(r.Context(), r.PathValue("fileId")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) extractFile(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	result, err := session.ProcessOne(r.Context(), r.PathValue("fileId"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) structureFile(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	result, err := session.Structure(r.Context(), r.PathValue("fileId"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type processResponse struct {
	Results map[string]domain.StructuredResult `json:"results"`
}

func (rt *Router) processAll(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}

	var structure *bool
	if err := runtime.BindQueryParameter("form", true, false, "structure", r.URL.Query(), &structure); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid structure parameter: %v", err)})
		return
	}

	results, err := session.ProcessAll(r.Context(), usecase.ProcessOptions{Structure: structure != nil && *structure})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Results: results})
}

type completeResponse struct {
	Records []domain.DocumentRecord `json:"records"`
}

func (rt *Router) completeSession(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	records, err := rt.completer.Complete(r.Context(), session)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, completeResponse{Records: records})
}
