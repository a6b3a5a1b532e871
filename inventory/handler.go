package inventory

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ggoodman/realmguard/internal/logctx"
)

// Handler serves the product list as JSON. Authorization is applied by the
// surrounding middleware.
type Handler struct {
	repo *Repository
	log  *slog.Logger
}

// NewHandler returns a Handler listing products from repo.
func NewHandler(repo *Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{repo: repo, log: logctx.New(log)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	products, err := h.repo.List(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "products.list.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.log.DebugContext(ctx, "products.list", slog.Int("count", len(products)))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(products)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
