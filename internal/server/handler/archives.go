package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// ArchiveLister lists archive objects per record kind.
type ArchiveLister interface {
	Archives(ctx context.Context, kind string) ([]domain.BlobInfo, error)
}

var archiveKinds = map[string]bool{"orders": true, "offers": true, "audit": true}

// ArchiveHandler serves the archive listing.
type ArchiveHandler struct {
	lister ArchiveLister
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(lister ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{lister: lister, logger: logHandler(logger, "archives")}
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives lists the JSONL objects archived for one kind.
// GET /api/archives?kind=orders|offers|audit
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if !archiveKinds[kind] {
		badRequest(w, "kind: want orders, offers or audit, got %q", kind)
		return
	}
	infos, err := h.lister.Archives(r.Context(), kind)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveObject{Path: info.Path, Size: info.Size, LastModified: info.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "objects": out})
}
