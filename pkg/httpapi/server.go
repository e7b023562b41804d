/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpapi exposes the scheduler over JSON HTTP. It owns request decoding and
// validation, the error-kind to status-code mapping, and nothing else; all semantics
// live in the scheduler.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/courierkit/courier/pkg/scheduler"
)

const (
	statsCacheKey = "stats"
	statsCacheTTL = 5 * time.Second
)

type Server struct {
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	log       *zap.SugaredLogger
	validate  *validator.Validate
	// statsCache absorbs hot polling from operator consoles.
	statsCache *gocache.Cache
}

func NewServer(s *scheduler.Scheduler, clk clock.Clock, log *zap.SugaredLogger) *Server {
	return &Server{
		scheduler:  s,
		clock:      clk,
		log:        log.Named("httpapi"),
		validate:   validator.New(),
		statsCache: gocache.New(statsCacheTTL, time.Minute),
	}
}

// Router assembles the HTTP surface. Allowed CORS origins come from configuration;
// "*" opens the API to browser consoles everywhere.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/messages", func(r chi.Router) {
		r.Post("/", s.createMessage)
		r.Get("/", s.listMessages)
		r.Get("/{id}", s.getMessage)
		r.Post("/{id}/cancel", s.cancelMessage)
	})
	r.Route("/gateway", func(r chi.Router) {
		r.Post("/claim", s.claim)
		r.Post("/report", s.report)
	})
	r.Get("/throttle", s.getThrottle)
	r.Put("/throttle", s.updateThrottle)
	r.Get("/health", s.health)
	r.Get("/stats", s.stats)
	return r
}
