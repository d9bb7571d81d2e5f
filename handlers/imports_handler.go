package handlers

import (
	"fmt"
	"net/http"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const cacheHeader = "X-Cache"

// HandleGetImports returns a page of the contact import history
// @Summary List contact imports
// @Description Returns a page of the import history. Pages are cached briefly, longer once every import on the page has settled.
// @Tags imports
// @Produce json
// @Param page query int false "Zero-based page number"
// @Param size query int false "Page size (max 100)"
// @Param sort query string false "Sort expression passed to the messaging API"
// @Param refresh query bool false "Bypass the cache"
// @Success 200 {object} types.ImportHistoryPage
// @Failure 400 {object} middleware.APIError
// @Failure 502 {object} middleware.APIError
// @Router /imports [get]
func (h *Handler) HandleGetImports(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	page, err := parsePageRequest(r)
	if err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if h.CacheManager != nil {
		if r.URL.Query().Get("refresh") == "true" {
			_ = h.CacheManager.InvalidateImports()
		} else if cached, found := h.CacheManager.GetImportPage(page); found {
			w.Header().Set(cacheHeader, "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := h.API.ListImportHistory(r.Context(), page)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"page":       page.Page,
			"size":       page.Size,
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to list import history")
		h.respondUpstreamError(w, err, requestID)
		return
	}

	if h.CacheManager != nil {
		if err := h.CacheManager.SetImportPage(page, result); err != nil {
			h.Logger.WithField("request_id", requestID).Warn("Failed to cache import history page")
		}
	}

	w.Header().Set(cacheHeader, "MISS")
	writeJSON(w, http.StatusOK, result)
}

// HandleGetBulkContacts returns a page of the contacts created by an import
// @Summary List contacts of an import
// @Tags imports
// @Produce json
// @Param bulkId path string true "Bulk id of the import"
// @Param page query int false "Zero-based page number"
// @Param size query int false "Page size (max 100)"
// @Success 200 {object} types.BulkContactPage
// @Failure 400 {object} middleware.APIError
// @Failure 404 {object} middleware.APIError
// @Router /imports/{bulkId}/contacts [get]
func (h *Handler) HandleGetBulkContacts(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	bulkID := mux.Vars(r)["bulkId"]
	if bulkID == "" {
		middleware.RespondBadRequest(w, fmt.Errorf("bulk id is required"), requestID)
		return
	}

	page, err := parsePageRequest(r)
	if err != nil {
		middleware.RespondValidationError(w, err, requestID)
		return
	}

	if h.CacheManager != nil {
		if cached, found := h.CacheManager.GetContactsPage(bulkID, page); found {
			w.Header().Set(cacheHeader, "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := h.API.ListBulkContacts(r.Context(), bulkID, page)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"bulk_id":    bulkID,
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to list bulk contacts")
		h.respondUpstreamError(w, err, requestID)
		return
	}

	if h.CacheManager != nil {
		_ = h.CacheManager.SetContactsPage(bulkID, page, result)
	}

	w.Header().Set(cacheHeader, "MISS")
	writeJSON(w, http.StatusOK, result)
}
