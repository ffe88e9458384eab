package main

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	launchhandler "github.com/upem-wims/wims-lti/domains/launch/be/handler"
	platformlogging "github.com/upem-wims/wims-lti/platform/go/logging"
	platformmiddleware "github.com/upem-wims/wims-lti/platform/go/middleware"
)

// readiness maps a dependency name to its ping.
type readiness map[string]func(ctx context.Context) error

func newRouter(logger *zap.Logger, requestTimeout time.Duration, launches *launchhandler.Handler, checks readiness) chi.Router {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(requestTimeout),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(platformmiddleware.RequestTrace)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readyHandler(checks))
	rootRouter.Handle("/metrics", promhttp.Handler())

	registerDocsRoutes(rootRouter, logger)

	rootRouter.Route("/lti", launches.Routes)

	return rootRouter
}

func readyHandler(checks readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		var failed []string
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				platformlogging.FromRequest(r, zap.NewNop()).Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			http.Error(w, "unavailable: "+strings.Join(failed, ", "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
