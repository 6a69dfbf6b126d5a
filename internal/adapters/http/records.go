package httpadapter

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

const (
	defaultPageLimit   = 50
	defaultExportLimit = 1000
)

func bindPage(query url.Values, defaultLimit int) (limit, offset int, err error) {
	var limitParam, offsetParam *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limitParam); err != nil {
		return 0, 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offsetParam); err != nil {
		return 0, 0, fmt.Errorf("invalid offset parameter: %w", err)
	}
	limit = defaultLimit
	if limitParam != nil {
		limit = *limitParam
	}
	if offsetParam != nil {
		offset = *offsetParam
	}
	return limit, offset, nil
}

func (rt *Router) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := bindPage(r.URL.Query(), defaultPageLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	records, total, err := rt.records.List(r.Context(), limit, offset)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, domain.RecordPage{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	record, err := rt.records.GetByID(r.Context(), r.PathValue("recordId"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) exportRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := bindPage(r.URL.Query(), defaultExportLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	records, _, err := rt.records.List(r.Context(), limit, offset)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	data, err := rt.exporter.ExportRecords(r.Context(), records)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="records.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
