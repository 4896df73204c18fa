package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	alwaysoffline "github.com/always-offline/always-offline"

	"github.com/go-chi/chi/v5"
)

// addControlRoutes wires the worker control plane. These endpoints stand in
// for the events a browser would deliver to its worker: messages, pushes,
// notification clicks, sync wakeups and window bookkeeping.
func addControlRoutes(r chi.Router, worker *alwaysoffline.Worker) {
	r.Post("/message", func(w http.ResponseWriter, r *http.Request) {
		var msg alwaysoffline.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		reply, err := worker.HandleMessage(r.Context(), msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		sendJSON(w, reply)
	})

	r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read payload", http.StatusBadRequest)
			return
		}
		if err := worker.HandlePush(r.Context(), payload); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/notification-click", func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		window := worker.HandleNotificationClick(r.Context(), action)
		if window == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		sendJSON(w, window)
	})

	r.Post("/sync/{tag}", func(w http.ResponseWriter, r *http.Request) {
		tag := chi.URLParam(r, "tag")
		err := worker.Sync(r.Context(), tag)
		if errors.Is(err, alwaysoffline.ErrUnknownSyncTag) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, worker.Sessions().Windows())
	})

	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Origin string `json:"origin"`
			Path   string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid session", http.StatusBadRequest)
			return
		}
		window := worker.Sessions().Register(body.Origin, body.Path)
		sendJSON(w, window)
	})

	r.Delete("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !worker.Sessions().Unregister(chi.URLParam(r, "id")) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/sessions/{id}/focus", func(w http.ResponseWriter, r *http.Request) {
		window, ok := worker.Sessions().Focus(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		sendJSON(w, window)
	})
}

func sendJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
