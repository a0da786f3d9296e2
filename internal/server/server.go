// Package server exposes the HTTP API: automation status, the cached
// gamedata reads, planet search and the manual refresh triggers.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"prunsync/internal/cache"
	"prunsync/internal/domain"
	"prunsync/internal/events"
	"prunsync/internal/importer"
	"prunsync/internal/metrics"
	"prunsync/internal/repo"
	"prunsync/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Repo      repo.Repo
	Cache     *cache.Store
	Events    *events.Writer
	Importer  *importer.Importer
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"planet not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the prunsync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	hcfg := huma.DefaultConfig("prunsync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg)
	registerEvents(group, cfg)
	registerRefresh(group, cfg)
	registerPlayers(group, cfg)
	registerGamedata(router, basePath, cfg)
	registerPlayerData(router, basePath, cfg)
	registerPlanetSearch(router, basePath, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Automation status overview",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		planets, err := cfg.Repo.StatusCounts(ctx, "planets")
		if err != nil {
			return nil, handleError(err)
		}
		players, err := cfg.Repo.StatusCounts(ctx, "players")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Planets:      planets,
			Players:      players,
			CacheEntries: cfg.Cache.Len(),
		}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-refresh-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest refresh events",
	}, func(ctx context.Context, input *struct {
		Collection string `query:"collection"`
		Limit      int    `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := cfg.Events.Latest(ctx, input.Limit, input.Collection)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerRefresh(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-refresh",
		Method:      http.MethodPost,
		Path:        "/refresh/{collection}",
		Summary:     "Trigger a collection refresh",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Collection string `path:"collection" enum:"material,building,recipe,exchange,planet,prices"`
	}) (*struct {
		Body RefreshResponse `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var err error
		switch input.Collection {
		case scheduler.CollectionMaterial, scheduler.CollectionBuilding,
			scheduler.CollectionRecipe, scheduler.CollectionExchange,
			scheduler.CollectionPlanet:
			err = cfg.Scheduler.RefreshCollection(ctx, input.Collection)
		case scheduler.CollectionPrices:
			err = cfg.Scheduler.RefreshPrices(ctx)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown collection", map[string]any{"collection": input.Collection})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RefreshResponse `json:"body"`
		}{Body: RefreshResponse{Collection: input.Collection, Refreshed: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-planet",
		Method:      http.MethodPost,
		Path:        "/planets/{natural_id}/refresh",
		Summary:     "Refresh one planet",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		NaturalID string `path:"natural_id"`
	}) (*struct {
		Body RefreshResponse `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		planet, err := cfg.Repo.GetPlanet(ctx, input.NaturalID)
		if err != nil {
			return nil, handleError(err)
		}
		claimed, err := cfg.Repo.MarkPlanetPending(ctx, planet.NaturalID, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		if !claimed {
			return nil, newAPIError(http.StatusConflict, "refresh_in_flight", "a refresh for this planet is already running", nil)
		}
		if err := cfg.Scheduler.RefreshPlanet(ctx, planet); err != nil {
			return &struct {
				Body RefreshResponse `json:"body"`
			}{Body: RefreshResponse{Collection: scheduler.CollectionPlanet, NaturalID: planet.NaturalID, Refreshed: false, Detail: err.Error()}}, nil
		}
		return &struct {
			Body RefreshResponse `json:"body"`
		}{Body: RefreshResponse{Collection: scheduler.CollectionPlanet, NaturalID: planet.NaturalID, Refreshed: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-planet-infrastructure",
		Method:      http.MethodPost,
		Path:        "/planets/{natural_id}/infrastructure/refresh",
		Summary:     "Refresh one planet's infrastructure reports",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		NaturalID string `path:"natural_id"`
	}) (*struct {
		Body RefreshResponse `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := cfg.Repo.GetPlanet(ctx, input.NaturalID); err != nil {
			return nil, handleError(err)
		}
		if _, err := cfg.Importer.ImportPlanetInfrastructure(ctx, input.NaturalID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RefreshResponse `json:"body"`
		}{Body: RefreshResponse{Collection: "infrastructure", NaturalID: input.NaturalID, Refreshed: true}}, nil
	})
}

func registerPlayers(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-player",
		Method:        http.MethodPost,
		Path:          "/players",
		Summary:       "Register or update a linked FIO account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RegisterPlayerRequest `json:"body"`
	}) (*struct {
		Body PlayerResponse `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.UserID == "" || input.Body.Username == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and username are required", nil)
		}
		now := time.Now().UTC()
		p := domain.Player{
			UserID:       input.Body.UserID,
			Username:     input.Body.Username,
			APIKey:       input.Body.APIKey,
			LastActiveAt: &now,
			Automation:   domain.AutomationState{Status: domain.StatusOK},
		}
		if err := cfg.Repo.UpsertPlayer(ctx, p); err != nil {
			return nil, handleError(err)
		}
		stored, err := cfg.Repo.GetPlayer(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlayerResponse `json:"body"`
		}{Body: playerResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-player",
		Method:      http.MethodGet,
		Path:        "/players/{user_id}",
		Summary:     "Player refresh status",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body PlayerResponse `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Repo.GetPlayer(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Repo.TouchPlayerActivity(ctx, p.UserID, time.Now()); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlayerResponse `json:"body"`
		}{Body: playerResponse(p)}, nil
	})
}
