package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// ArchiveHandler lists cold-storage archive files.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

// ListArchives lists archive objects under a kind prefix.
// GET /api/archives?kind=trades
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	if kind := r.URL.Query().Get("kind"); kind != "" {
		// Keep the listing inside the archive namespace.
		prefix += strings.Trim(kind, "/") + "/"
	}

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":   prefix,
		"archives": infos,
	})
}
