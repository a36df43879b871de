// Package api exposes the feed management surface: feed registration,
// status, generation control and the internal run continuation hook.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"feedforge/pkg/feed"
	"feedforge/pkg/logger"
	"feedforge/pkg/pipeline"
	"feedforge/pkg/store"
	"feedforge/pkg/utils"
)

// Server wires the HTTP handlers to the pipeline components.
type Server struct {
	KV       store.KV
	Prep     *pipeline.Preparer
	Runner   *pipeline.Runner
	Dispatch *pipeline.Dispatcher
	Queue    *pipeline.Controller
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/feeds/{id}", s.putFeed).Methods(http.MethodPut)
	r.HandleFunc("/v1/feeds/{id}", s.getFeed).Methods(http.MethodGet)
	r.HandleFunc("/v1/feeds/{id}/generate", s.generate).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue", s.queueState).Methods(http.MethodGet)
	r.HandleFunc("/internal/feeds/continue", s.continueRun).Methods(http.MethodPost)
	return r
}

func (s *Server) putFeed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var f feed.Feed
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	f.ID = id
	if err := pipeline.SaveFeed(s.KV, f); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Feed(id, logger.SevInfo, "feed saved", "file", f.FileName, "channel", f.Channel)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}

type feedView struct {
	Feed   feed.Feed       `json:"feed"`
	Status string          `json:"status"`
	Counts pipeline.Counts `json:"counts"`
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, err := pipeline.LoadFeed(s.KV, id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "feed not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, feedView{
		Feed:   f,
		Status: pipeline.GetStatus(s.KV, id),
		Counts: pipeline.LoadCounts(s.KV, id),
	})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Prep.Start(r.Context(), id, false); err != nil {
		if errors.Is(err, pipeline.ErrFeedNotFound) {
			utils.JSONError(w, http.StatusNotFound, "feed not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.Prep.Background {
		_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{
			"status": pipeline.GetStatus(s.KV, id),
		})
		return
	}
	// synchronous mode finished the whole feed within this request
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("finished\n"))
}

func (s *Server) queueState(w http.ResponseWriter, r *http.Request) {
	ids := s.Queue.Snapshot()
	if ids == nil {
		ids = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"queue":      ids,
		"processing": s.Queue.IsProcessing(),
	})
}

// continueRun is the loopback continuation target. The nonce is single
// use; a replayed or expired token is rejected so a stray duplicate
// request cannot start a second worker.
func (s *Server) continueRun(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("nonce")
	if token == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing nonce")
		return
	}
	feedID, ok := s.Dispatch.Consume(token)
	if !ok {
		utils.JSONError(w, http.StatusForbidden, "invalid or expired nonce")
		return
	}
	// the request is the worker slice; the dispatching side never waits
	// on the response
	if err := s.Runner.RunSlice(r.Context(), feedID); err != nil {
		logger.Feed(feedID, logger.SevError, "slice failed", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "slice failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}
