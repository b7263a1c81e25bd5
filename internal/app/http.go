package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"chainbot/pkg/api"
	"chainbot/pkg/banner"
	"chainbot/pkg/telemetry"
)

const httpStopTimeout = 5 * time.Second

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// startHTTP mounts the api router plus metrics and docs, starts the admin
// server in a goroutine and returns its error channel.
func (a *App) startHTTP() <-chan error {
	apiSrv := &api.Server{
		Reg:     a.reg,
		Queue:   a.queue,
		Sweeper: a.sweeper,
		Version: a.version,
	}
	router := apiSrv.Router()
	router.Handle("/metrics", promhttp.Handler())
	router.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	router.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: telemetry.Middleware(router)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
