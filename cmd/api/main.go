// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/config"
	"github.com/JaviNavarroB/Cierzo/internal/httpx"
	"github.com/JaviNavarroB/Cierzo/pkg/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.MustLoad()
	logging.Setup("api", cfg.Log.Level, cfg.Log.Pretty)

	gateway, err := newGateway(cfg.Gateway)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upstream configuration")
	}

	if err := httpx.Serve(ctx, gateway, cfg.HTTP.Server("8080")); err != nil {
		log.Fatal().Err(err).Msg("api gateway failed")
	}
}

// newGateway strips the /api prefix and forwards each path to the service
// that owns it.
func newGateway(cfg config.GatewayConfig) (http.Handler, error) {
	catalog, err := newProxy("catalog", cfg.CatalogURL)
	if err != nil {
		return nil, err
	}
	enrollment, err := newProxy("enrollment", cfg.EnrollmentURL)
	if err != nil {
		return nil, err
	}
	membership, err := newProxy("membership", cfg.MembershipURL)
	if err != nil {
		return nil, err
	}

	r := httpx.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Handle("/users/*", membership)
		r.Handle("/profile", membership)

		r.Handle("/deportes", catalog)
		r.Handle("/deportes/*", catalog)
		r.Handle("/equipos", catalog)
		r.Handle("/equipos/*", catalog)
		r.Handle("/events/*", catalog)

		r.Handle("/inscripcionEvento", enrollment)
		r.Handle("/inscripcionEquipo", enrollment)
	})
	return r, nil
}

func newProxy(name, rawURL string) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%s upstream %q is not an absolute URL", name, rawURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error().Err(err).Str("upstream", name).Str("path", r.URL.Path).Msg("upstream unavailable")
		httpx.Error(w, http.StatusBadGateway, "Servicio no disponible")
	}
	return http.StripPrefix("/api", proxy), nil
}
