package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	dmerrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/updater"
	api "dmsdk/pkg/contracts/api/v1"
)

// UpdateTracker is the part of updater.Tracker the handler uses.
type UpdateTracker interface {
	GetUpdateState(ctx context.Context) (*updater.State, error)
	CheckForUpdates(ctx context.Context, options map[string]any) (map[string]any, error)
	DownloadUpdate(ctx context.Context, options map[string]any) (map[string]any, error)
}

// UpdateHandler exposes the update lifecycle over HTTP.
type UpdateHandler struct {
	tracker  UpdateTracker
	timeout  time.Duration
	validate *validator.Validate
	errors   *dmerrors.ErrorHandler
	logger   *slog.Logger
}

// NewUpdateHandler creates an update handler. A positive timeout bounds
// each request.
func NewUpdateHandler(tracker UpdateTracker, timeout time.Duration, logger *slog.Logger) *UpdateHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &UpdateHandler{
		tracker:  tracker,
		timeout:  timeout,
		validate: v,
		errors:   dmerrors.NewErrorHandler(logger),
		logger:   infrastructure.ComponentLogger(logger, "update_handler"),
	}
}

// Routes returns the /api/v1/update router.
func (h *UpdateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}
	r.Get("/state", h.GetState)
	r.Post("/check", h.Check)
	r.Post("/download", h.Download)
	return r
}

// GetState handles GET /api/v1/update/state.
func (h *UpdateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.tracker.GetUpdateState(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, UpdateStateResponse(state))
}

// Check handles POST /api/v1/update/check.
func (h *UpdateHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "check_for_updates", h.tracker.CheckForUpdates)
}

// Download handles POST /api/v1/update/download.
func (h *UpdateHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "download_update", h.tracker.DownloadUpdate)
}

func (h *UpdateHandler) forward(w http.ResponseWriter, r *http.Request, action string,
	call func(context.Context, map[string]any) (map[string]any, error)) {
	ctx := r.Context()

	var body actionRequest
	if r.ContentLength != 0 && r.Body != http.NoBody {
		if err := render.Bind(r, &body); err != nil {
			dmerrors.WriteProblem(w, dmerrors.NewProblemDetails(http.StatusBadRequest, dmerrors.TypeValidation,
				"Invalid Request", "Request body must be a JSON object", r.URL.Path))
			return
		}
		if err := h.validate.Struct(api.UpdateActionRequest(body)); err != nil {
			dmerrors.WriteProblem(w, dmerrors.NewProblemDetails(http.StatusBadRequest, dmerrors.TypeValidation,
				"Invalid Request", validationDetail(err), r.URL.Path))
			return
		}
	}

	data, err := call(ctx, body.Options)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "Update action forwarded",
		slog.String("action", action),
		slog.Bool("accepted", data != nil),
	)
	render.JSON(w, r, api.UpdateActionResponse{Accepted: data != nil, Data: data})
}

type actionRequest api.UpdateActionRequest

// Bind implements render.Binder.
func (a *actionRequest) Bind(*http.Request) error { return nil }

func validationDetail(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "Request body failed validation"
	}
	return fmt.Sprintf("%s failed %s validation", errs[0].Namespace(), errs[0].Tag())
}

// UpdateStateResponse converts a tracker snapshot to its API form. A nil
// state means the launcher did not report one.
func UpdateStateResponse(state *updater.State) api.UpdateStateResponse {
	if state == nil {
		return api.UpdateStateResponse{}
	}
	return api.UpdateStateResponse{
		Available: true,
		Sequence:  state.Sequence,
		Status:    state.RawStatus,
		Terminal:  state.Status.Terminal(),
		Detail:    state.Detail,
	}
}
