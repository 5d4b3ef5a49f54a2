package refresher

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
	apphttp "github.com/chainsafe/senate-indexer/pkg/app/http"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// EntityReader is the read side of the store used by the ops API.
type EntityReader interface {
	GetEntity(ctx context.Context, id uuid.UUID) (*governance.Entity, error)
	ListEntities(ctx context.Context, opts ...store.QueryOption) ([]*governance.Entity, error)
}

// QueueView exposes the pending work of the scheduler.
type QueueView interface {
	Len() int
	Items() []governance.WorkItem
}

// Readiness reports whether the scheduler finished its first populate pass.
type Readiness interface {
	IsReady() bool
}

// RouterConfig holds what the ops router serves.
type RouterConfig struct {
	Entities       EntityReader
	Queue          QueueView
	Ready          Readiness
	Metrics        bool
	RequestTimeout time.Duration
}

type entityView struct {
	ID            uuid.UUID `json:"id"`
	OrgID         uuid.UUID `json:"org_id"`
	OrgName       string    `json:"org_name"`
	Type          string    `json:"type"`
	ChainIndex    int64     `json:"chain_index"`
	SnapshotIndex time.Time `json:"snapshot_index"`
	RefreshStatus string    `json:"refresh_status"`
	LastRefresh   time.Time `json:"last_refresh"`
	RefreshSpeed  int64     `json:"refresh_speed"`
	VotersSpeed   int64     `json:"voters_refresh_speed"`
	Active        bool      `json:"active"`
}

func toEntityView(e *governance.Entity) entityView {
	return entityView{
		ID:            e.ID,
		OrgID:         e.OrgID,
		OrgName:       e.OrgName,
		Type:          string(e.Type),
		ChainIndex:    e.ChainIndex,
		SnapshotIndex: e.SnapshotIndex,
		RefreshStatus: string(e.RefreshStatus),
		LastRefresh:   e.LastRefresh,
		RefreshSpeed:  e.RefreshSpeed,
		VotersSpeed:   e.VotersRefreshSpeed,
		Active:        e.Active,
	}
}

type workItemView struct {
	Kind     string    `json:"kind"`
	EntityID uuid.UUID `json:"entity_id"`
	Voters   int       `json:"voters"`
	Priority int64     `json:"priority"`
}

// NewRouter builds the ops HTTP router.
func NewRouter(cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !cfg.Ready.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	h := &handler{entities: cfg.Entities, queue: cfg.Queue}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/entities", apphttp.HandleError(logger, h.listEntities))
		r.Get("/entities/{id}", apphttp.HandleError(logger, h.getEntity))
		r.Get("/queue", apphttp.HandleError(logger, h.getQueue))
	})

	return r
}

type handler struct {
	entities EntityReader
	queue    QueueView
}

// listEntities supports the org, type and active query filters.
func (h *handler) listEntities(w http.ResponseWriter, r *http.Request) error {
	var opts []store.QueryOption
	q := r.URL.Query()

	if raw := q.Get("org"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.BadRequestError(err, "org must be a uuid")
		}
		opts = append(opts, store.WithOrg(orgID))
	}
	if raw := q.Get("type"); raw != "" {
		t, err := governance.ParseSourceType(raw)
		if err != nil {
			return apperrors.BadRequestError(err, err.Error())
		}
		opts = append(opts, store.WithType(t))
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.BadRequestError(err, "active must be a boolean")
		}
		if active {
			opts = append(opts, store.WithActive())
		}
	}

	entities, err := h.entities.ListEntities(r.Context(), opts...)
	if err != nil {
		return err
	}
	return apphttp.WriteJSON(w, map[string]any{
		"entities": lo.Map(entities, func(e *governance.Entity, _ int) entityView { return toEntityView(e) }),
	})
}

func (h *handler) getEntity(w http.ResponseWriter, r *http.Request) error {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return apperrors.BadRequestError(err, "id must be a uuid")
	}
	entity, err := h.entities.GetEntity(r.Context(), id)
	if err != nil {
		return err
	}
	return apphttp.WriteJSON(w, toEntityView(entity))
}

func (h *handler) getQueue(w http.ResponseWriter, _ *http.Request) error {
	items := lo.Map(h.queue.Items(), func(item governance.WorkItem, _ int) workItemView {
		return workItemView{
			Kind:     string(item.Kind),
			EntityID: item.EntityID,
			Voters:   len(item.Voters),
			Priority: item.Priority,
		}
	})
	return apphttp.WriteJSON(w, map[string]any{
		"depth": h.queue.Len(),
		"items": items,
	})
}
