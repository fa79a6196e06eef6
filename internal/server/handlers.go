package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/medinvoice/internal/cache"
	"github.com/MeKo-Tech/medinvoice/internal/common"
	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
	"github.com/MeKo-Tech/medinvoice/internal/repository"
	"github.com/MeKo-Tech/medinvoice/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// infoHandler describes the loaded pipeline.
func (s *Server) infoHandler(w http.ResponseWriter, _ *http.Request) {
	info := s.pipeline.Info()
	if s.cache != nil {
		info["cache"] = s.cache.Stats()
	}
	info["memory"] = common.GetMemoryStats()
	writeJSON(w, http.StatusOK, info)
}

// submitHandler accepts a multipart upload with a "file" part and optional
// "pages" spans. With wait=false the document is processed in the
// background and 202 is returned at once; progress is available on /v1/ws.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadMB * 1024 * 1024
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Sprintf("upload exceeds %d MB", s.maxUploadMB))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Sprintf("upload exceeds %d MB", s.maxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "no file provided")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_file", "uploaded file is empty")
		return
	}
	s.metrics.uploadSize.Observe(float64(len(data)))

	pages, err := model.ParsePageSpans(r.FormValue("pages"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pages", err.Error())
		return
	}

	doc := model.NewDocument(header.Filename, data, pages)
	s.hub.publish(doc.ID, model.StatusReceived)

	if s.archive != nil {
		if _, err := s.archive.Save(r.Context(), doc.ID, doc.Name, data); err != nil {
			slog.Warn("archive upload failed", "document", doc.ID, "error", err)
		}
	}

	if wait, _ := strconv.ParseBool(valueOr(r.FormValue("wait"), "true")); !wait {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := s.processContext(s.baseCtx)
			defer cancel()
			s.process(ctx, doc)
		}()
		writeJSON(w, http.StatusAccepted, InvoiceResponse{ID: doc.ID, Name: doc.Name, Status: model.StatusReceived})
		return
	}

	ctx, cancel := s.processContext(r.Context())
	defer cancel()
	res, hash := s.process(ctx, doc)

	resp := resultResponse(res)
	resp.ContentHash = hash
	status := http.StatusOK
	if res.Failure != nil {
		status = failureStatus(res.Failure.Kind)
	}
	writeJSON(w, status, resp)
}

// getHandler returns a stored invoice, or the live status of one still in
// flight.
func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inv, err := s.repo.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		if ev, ok := s.hub.current(id); ok {
			writeJSON(w, http.StatusOK, InvoiceResponse{ID: id, Status: ev.Status})
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "invoice not found")
		return
	}
	if err != nil {
		slog.Error("invoice lookup failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup_failed", "failed to load invoice")
		return
	}
	resp, err := invoiceResponse(inv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "decode_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// listHandler pages through stored invoices. With hash=<content hash> it
// returns the newest completed invoice for that input instead.
func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if hash := q.Get("hash"); hash != "" {
		inv, err := s.repo.FindByHash(r.Context(), hash)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no invoice for hash")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup_failed", "failed to load invoice")
			return
		}
		resp, err := invoiceResponse(inv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "decode_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	page, err := s.repo.List(r.Context(), repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		slog.Error("invoice list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list invoices")
		return
	}
	out := ListResponse{Items: make([]InvoiceResponse, 0, len(page.Items)), Total: page.Total}
	for i := range page.Items {
		resp, err := invoiceResponse(&page.Items[i])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "decode_failed", err.Error())
			return
		}
		out.Items = append(out.Items, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) processContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// process runs doc through the cache or pipeline, publishes every status
// transition and persists the result. It returns the result and the content
// hash it was stored under.
func (s *Server) process(ctx context.Context, doc *model.Document) (*pipeline.Result, string) {
	ctx = pipeline.WithStatusObserver(ctx, s.hub.publish)
	hash := cache.Key(doc, s.pipeline.Config().Fingerprint())

	start := time.Now()
	var res *pipeline.Result
	if s.cache != nil {
		res = s.cache.Process(ctx, s.pipeline, doc)
	} else {
		res = s.pipeline.Process(ctx, doc)
	}
	s.metrics.observeDocument(res, time.Since(start))
	s.hub.finish(res)

	inv, err := repository.FromResult(res, hash, time.Now())
	if err == nil {
		// The request context may already be done; persistence must not be.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = s.repo.Save(saveCtx, inv)
		cancel()
	}
	if err != nil {
		slog.Error("persist invoice failed", "document", doc.ID, "error", err)
	}
	return res, hash
}

func resultResponse(res *pipeline.Result) InvoiceResponse {
	out := res.Output()
	return InvoiceResponse{
		ID:      res.DocumentID,
		Name:    res.Name,
		Status:  out.Status,
		Record:  out.Record,
		Failure: out.Failure,
		Timings: res.Timings,
	}
}

func invoiceResponse(inv *repository.Invoice) (InvoiceResponse, error) {
	rec, err := inv.FlatRecord()
	if err != nil {
		return InvoiceResponse{}, err
	}
	return InvoiceResponse{
		ID:          inv.ID,
		Name:        inv.Name,
		Status:      inv.Status,
		ContentHash: inv.ContentHash,
		Record:      rec,
		Failure:     inv.Failure,
		CreatedAt:   inv.CreatedAt.Format(time.RFC3339),
	}, nil
}

// failureStatus maps a failure kind to an HTTP status.
func failureStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindPreprocess:
		return http.StatusUnprocessableEntity
	case model.KindOCR:
		return http.StatusBadGateway
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	case model.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
