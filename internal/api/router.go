package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", app.SearchHandler)
		r.Post("/search/stream", app.SearchStreamHandler)

		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", app.StartRecordingHandler)
			r.Post("/stop", app.StopRecordingHandler)
			r.Get("/status", app.RecordingStatusHandler)
		})
		r.Get("/recordings", app.ListRecordingsHandler)
		r.Delete("/recordings", app.ClearRecordingsHandler)

		r.Get("/frames/count", app.FrameCountHandler)
		r.Get("/locations", app.LocationsHandler)
		r.Delete("/frames", app.ClearFramesHandler)
	})

	return r
}
