package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/viewport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infof("Listening on %s", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("hubdeck", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/columns", func(r chi.Router) {
			r.Get("/", ctrl.listColumns)
			r.Post("/", ctrl.createColumn)

			r.Route("/{column_id}", func(r chi.Router) {
				r.Get("/", ctrl.getColumn)
				r.Delete("/", ctrl.deleteColumn)
				r.Put("/filters", ctrl.updateFilters)
				r.Post("/clear", ctrl.clearColumn)
				r.Get("/items", ctrl.columnFeed)
				r.Post("/refresh", ctrl.refresh)
				r.Post("/next-page", ctrl.fetchNextPage)
				r.Post("/viewable", ctrl.setViewable)
				r.Post("/selection", ctrl.selectItem)
				r.Post("/items/read", ctrl.markRead)
				r.Post("/items/save", ctrl.markSaved)
				r.Post("/scroll-failures", ctrl.reportScrollFailure)
			})
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// fail maps service errors to statuses. A column of unknown type renders
// nothing.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lib.ErrColumnNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, lib.ErrInvalidColumnType):
		ctrl.reject(w, http.StatusNoContent, nil)
	case errors.Is(err, lib.ErrInvalidColumn):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, lib.ErrNoMorePages), errors.Is(err, lib.ErrNothingSelected):
		ctrl.reject(w, http.StatusConflict, err)
	default:
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}
}

func (ctrl *controller) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func (ctrl *controller) listColumns(w http.ResponseWriter, r *http.Request) {
	columns, err := ctrl.svc.ListColumns(r.Context())
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.Column, ColumnView](columns))
}

func (ctrl *controller) createColumn(w http.ResponseWriter, r *http.Request) {
	var in lib.CreateColumnInput
	if !ctrl.decode(w, r, &in) {
		return
	}

	column, err := ctrl.svc.CreateColumn(r.Context(), in)
	switch {
	case errors.Is(err, lib.ErrInvalidColumnType):
		ctrl.reject(w, http.StatusBadRequest, err)
	case err != nil:
		ctrl.fail(w, err)
	default:
		ctrl.resolve(w, http.StatusCreated, ColumnView{}.From(*column))
	}
}

func (ctrl *controller) getColumn(w http.ResponseWriter, r *http.Request) {
	column, err := ctrl.svc.GetColumn(r.Context(), chi.URLParam(r, "column_id"))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ColumnView{}.From(*column))
}

func (ctrl *controller) deleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteColumn(r.Context(), chi.URLParam(r, "column_id")); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusNoContent, nil)
}

func (ctrl *controller) updateFilters(w http.ResponseWriter, r *http.Request) {
	var filters models.Filters
	if !ctrl.decode(w, r, &filters) {
		return
	}
	column, err := ctrl.svc.UpdateColumnFilters(r.Context(), chi.URLParam(r, "column_id"), filters)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ColumnView{}.From(*column))
}

func (ctrl *controller) clearColumn(w http.ResponseWriter, r *http.Request) {
	column, err := ctrl.svc.ClearColumn(r.Context(), chi.URLParam(r, "column_id"))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ColumnView{}.From(*column))
}

func (ctrl *controller) columnFeed(w http.ResponseWriter, r *http.Request) {
	ctrl.feed(w, r, ctrl.svc.ColumnFeed)
}

func (ctrl *controller) refresh(w http.ResponseWriter, r *http.Request) {
	ctrl.feed(w, r, ctrl.svc.Refresh)
}

func (ctrl *controller) fetchNextPage(w http.ResponseWriter, r *http.Request) {
	ctrl.feed(w, r, ctrl.svc.FetchNextPage)
}

func (ctrl *controller) feed(w http.ResponseWriter, r *http.Request, get func(context.Context, string) (*lib.Feed, error)) {
	feed, err := get(r.Context(), chi.URLParam(r, "column_id"))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FeedView{}.From(feed))
}

func (ctrl *controller) setViewable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Indexes []int `json:"indexes"`
	}
	if !ctrl.decode(w, r, &body) {
		return
	}
	if err := ctrl.svc.SetViewable(r.Context(), chi.URLParam(r, "column_id"), body.Indexes); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusNoContent, nil)
}

func (ctrl *controller) selectItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Direction viewport.Direction `json:"direction"`
	}
	if !ctrl.decode(w, r, &body) {
		return
	}
	if !body.Direction.Valid() {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("direction must be %q or %q", viewport.Next, viewport.Previous))
		return
	}

	sel, err := ctrl.svc.SelectItem(r.Context(), chi.URLParam(r, "column_id"), body.Direction)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SelectionView{sel.Index, ItemView{}.From(sel.Item)})
}

func (ctrl *controller) markRead(w http.ResponseWriter, r *http.Request) {
	var in lib.MarkInput
	if !ctrl.decode(w, r, &in) {
		return
	}
	if in.Unread == nil {
		read := false
		in.Unread = &read
	}
	in.Saved = nil
	ctrl.mark(w, r, in)
}

func (ctrl *controller) markSaved(w http.ResponseWriter, r *http.Request) {
	var in lib.MarkInput
	if !ctrl.decode(w, r, &in) {
		return
	}
	if in.Saved == nil {
		saved := true
		in.Saved = &saved
	}
	in.Unread = nil
	ctrl.mark(w, r, in)
}

func (ctrl *controller) mark(w http.ResponseWriter, r *http.Request, in lib.MarkInput) {
	if err := ctrl.svc.MarkItems(r.Context(), chi.URLParam(r, "column_id"), in); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusNoContent, nil)
}

func (ctrl *controller) reportScrollFailure(w http.ResponseWriter, r *http.Request) {
	var failure viewport.ScrollFailure
	if !ctrl.decode(w, r, &failure) {
		return
	}
	ctrl.svc.ReportScrollFailure(r.Context(), chi.URLParam(r, "column_id"), failure)
	ctrl.reject(w, http.StatusAccepted, nil)
}
