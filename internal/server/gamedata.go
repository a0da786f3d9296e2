package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"prunsync/internal/cache"
	"prunsync/internal/repo"
)

// The gamedata reads bypass the typed API layer on purpose: responses
// are served byte-identical from the cache, so the handler writes the
// stored payload directly and reports the hit in X-Cache-Hit.

func registerGamedata(router chi.Router, basePath string, cfg Config) {
	prefix := path.Join(basePath, "gamedata")

	router.Route(prefix, func(r chi.Router) {
		r.Get("/materials", cachedList(cfg, cache.KeyMaterialList(), cache.Timeout1Day, func(req *http.Request) (any, error) {
			return cfg.Repo.ListMaterials(req.Context())
		}))
		r.Get("/buildings", cachedList(cfg, cache.KeyBuildingList(), cache.Timeout1Day, func(req *http.Request) (any, error) {
			return cfg.Repo.ListBuildings(req.Context())
		}))
		r.Get("/recipes", cachedList(cfg, cache.KeyRecipeList(), cache.Timeout1Day, func(req *http.Request) (any, error) {
			return cfg.Repo.ListRecipes(req.Context())
		}))
		r.Get("/exchanges", cachedList(cfg, cache.KeyExchangeList(), cache.Timeout15Min, func(req *http.Request) (any, error) {
			return cfg.Repo.ListExchanges(req.Context())
		}))
		r.Get("/analytics", cachedList(cfg, cache.KeyAnalyticsList(), cache.Timeout3H, func(req *http.Request) (any, error) {
			return cfg.Repo.ListAnalytics(req.Context())
		}))
		r.Get("/planets", cachedList(cfg, cache.KeyPlanetList(), cache.Timeout3H, func(req *http.Request) (any, error) {
			planets, err := cfg.Repo.ListPlanets(req.Context())
			if err != nil {
				return nil, err
			}
			return mapPlanets(planets), nil
		}))

		r.Get("/planets/{natural_id}", func(w http.ResponseWriter, req *http.Request) {
			naturalID := chi.URLParam(req, "natural_id")
			serveCached(cfg, w, cache.KeyPlanet(naturalID), cache.Timeout3H, func() (any, error) {
				p, err := cfg.Repo.GetPlanet(req.Context(), naturalID)
				if err != nil {
					return nil, err
				}
				return planetResponse(p), nil
			})
		})
		r.Get("/planets/{natural_id}/infrastructure", func(w http.ResponseWriter, req *http.Request) {
			naturalID := chi.URLParam(req, "natural_id")
			serveCached(cfg, w, cache.KeyPlanetInfrastructure(naturalID), cache.Timeout1Day, func() (any, error) {
				return cfg.Repo.ListInfrastructureReports(req.Context(), naturalID)
			})
		})
		r.Get("/prices/{ticker}/{exchange_code}", func(w http.ResponseWriter, req *http.Request) {
			ticker := chi.URLParam(req, "ticker")
			code := chi.URLParam(req, "exchange_code")
			serveCached(cfg, w, cache.KeyPrices(ticker, code), cache.Timeout3H, func() (any, error) {
				since := time.Now().AddDate(0, 0, -365)
				return cfg.Repo.ListPriceBars(req.Context(), ticker, code, since)
			})
		})
	})
}

// registerPlayerData serves the raw FIO snapshots for one linked
// account from the cache. RefreshPlayer purges the key after every
// snapshot write, so a hit is never older than the last refresh.
func registerPlayerData(router chi.Router, basePath string, cfg Config) {
	router.Get(path.Join(basePath, "players/{user_id}/data"), func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "user_id")
		serveCached(cfg, w, cache.KeyPlayerStorage(userID), cache.Timeout30Min, func() (any, error) {
			p, err := cfg.Repo.GetPlayer(req.Context(), userID)
			if err != nil {
				return nil, err
			}
			return playerDataResponse(p), nil
		})
	})
}

func registerPlanetSearch(router chi.Router, basePath string, cfg Config) {
	router.Post(path.Join(basePath, "planets/search"), func(w http.ResponseWriter, req *http.Request) {
		var body PlanetSearchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid search body", map[string]any{"error": err.Error()}))
			return
		}
		filter := body.toDomain()
		serveCached(cfg, w, cache.KeyPlanetSearch(filter), cache.Timeout15Min, func() (any, error) {
			planets, err := cfg.Repo.SearchPlanets(req.Context(), filter, time.Now())
			if err != nil {
				return nil, err
			}
			return mapPlanets(planets), nil
		})
	})
}

func cachedList(cfg Config, key string, timeout time.Duration, load func(req *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		serveCached(cfg, w, key, timeout, func() (any, error) {
			return load(req)
		})
	}
}

func serveCached(cfg Config, w http.ResponseWriter, key string, timeout time.Duration, compute func() (any, error)) {
	data, hit, err := cfg.Cache.GetOrSet(key, timeout, compute)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil))
			return
		}
		respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()}))
		return
	}
	if hit {
		cfg.Metrics.CacheHits.Inc()
		w.Header().Set("X-Cache-Hit", "true")
	} else {
		cfg.Metrics.CacheMisses.Inc()
		w.Header().Set("X-Cache-Hit", "false")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
