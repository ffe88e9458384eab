package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upem-wims/wims-lti/domains/launch/be/service"
	platformlogging "github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/problems"
)

const maxFormBytes = 1 << 20

// Launcher is the launch service as seen by the HTTP layer.
type Launcher interface {
	LaunchClass(ctx context.Context, req service.Request) (service.Result, error)
	LaunchActivity(ctx context.Context, req service.Request) (service.Result, error)
}

// Handler exposes the LTI launch endpoints.
type Handler struct {
	svc        Launcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	publicBase string
}

// New constructs a Handler. publicBase, when set, replaces the scheme and host the consumer
// is assumed to have signed.
func New(svc Launcher, logger *zap.Logger, m *metrics.Metrics, publicBase string) *Handler {
	if svc == nil {
		panic("launch service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger, metrics: m, publicBase: strings.TrimRight(publicBase, "/")}
}

// Routes registers the launch endpoints. Every method is routed so wrong ones get the launch
// error message instead of the router's default.
func (h *Handler) Routes(r chi.Router) {
	r.HandleFunc("/{wimsID}/", h.launch(metrics.EndpointClass, true))
	r.HandleFunc("/{wimsID}", h.launch(metrics.EndpointClass, false))
	r.HandleFunc("/{wimsID}/{itemID}/", h.launch(metrics.EndpointActivity, true))
	r.HandleFunc("/{wimsID}/{itemID}", h.launch(metrics.EndpointActivity, false))
}

func (h *Handler) launch(endpoint string, trailingSlash bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := platformlogging.FromRequest(r, h.logger).With(zap.String("endpoint", endpoint))

		req := service.Request{
			WimsID:        chi.URLParam(r, "wimsID"),
			ItemID:        chi.URLParam(r, "itemID"),
			Method:        r.Method,
			TrailingSlash: trailingSlash,
			BaseURI:       lti.BaseURI(r, h.publicBase),
		}
		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
			if err := r.ParseForm(); err != nil {
				h.fail(w, logger, endpoint, start,
					problems.Wrap(problems.ErrInvalidLaunch, err, "LTI request is invalid, malformed form body"))
				return
			}
			req.Params = r.Form
		}

		ctx := platformlogging.WithLogger(r.Context(), logger)
		var (
			res service.Result
			err error
		)
		if endpoint == metrics.EndpointActivity {
			res, err = h.svc.LaunchActivity(ctx, req)
		} else {
			res, err = h.svc.LaunchClass(ctx, req)
		}
		if err != nil {
			h.fail(w, logger, endpoint, start, err)
			return
		}

		h.metrics.ObserveLaunch(endpoint, metrics.OutcomeRedirected, start)
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

func (h *Handler) fail(w http.ResponseWriter, logger *zap.Logger, endpoint string, start time.Time, err error) {
	status := problems.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.metrics.ObserveLaunch(endpoint, metrics.OutcomeFailed, start)
	} else {
		h.metrics.ObserveLaunch(endpoint, metrics.OutcomeRejected, start)
	}

	switch {
	case status == http.StatusInternalServerError:
		logger.Error("launch failed", zap.Error(err))
	case status >= http.StatusBadGateway:
		logger.Warn("launch failed upstream", zap.Int("status", status), zap.Error(err))
	default:
		logger.Info("launch rejected", zap.Int("status", status), zap.String("reason", problems.Message(err)))
	}

	http.Error(w, problems.Message(err), status)
}
