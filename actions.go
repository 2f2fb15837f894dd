/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/songroom/room"
)

const maxActionBody = 4 << 10

type actionRequest struct {
	Text    string `json:"text"`
	Keyword string `json:"keyword"`
}

type actionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type action func(ctx context.Context, req actionRequest) error

// actionStatus maps session errors onto the status the control page
// answers with.
func actionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, room.ErrEmptyMessage), errors.Is(err, room.ErrNoKeyword):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrNotHost), errors.Is(err, room.ErrMicDenied):
		return http.StatusForbidden
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrNotAllReady), errors.Is(err, room.ErrAlreadyStarted),
		errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrNotEntered):
		return http.StatusConflict
	case errors.Is(err, room.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, room.ErrNotConnected), errors.Is(err, room.ErrSendBufferFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func serveAction(cfg *Config, name string, act action, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		var req actionRequest
		err := json.NewDecoder(io.LimitReader(r.Body, maxActionBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			_, werr := writeJSON(cfg, w, http.StatusBadRequest, actionResponse{Error: "invalid request body"})
			if werr != nil {
				errs <- werr
			}

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout-time.Second)
		defer cancel()

		err = act(ctx, req)

		resp := actionResponse{OK: err == nil}
		if err != nil {
			resp.Error = err.Error()
		}

		status := actionStatus(err)
		if _, werr := writeJSON(cfg, w, status, resp); werr != nil {
			errs <- werr

			return
		}

		logf(cfg, "ACTION: %s from %s returned %d in %s",
			name,
			realIP(r),
			status,
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func registerActions(cfg *Config, session controller, mux *httprouter.Router, errs chan<- error) {
	actions := map[string]action{
		"ready": func(context.Context, actionRequest) error {
			return session.ToggleReady()
		},
		"mic": func(context.Context, actionRequest) error {
			return session.MicReady()
		},
		"start": func(context.Context, actionRequest) error {
			return session.StartGame()
		},
		"chat": func(_ context.Context, req actionRequest) error {
			return session.SendTalk(req.Text)
		},
		"answer": func(ctx context.Context, req actionRequest) error {
			return session.SubmitAnswer(ctx, req.Text)
		},
		"keyword": func(_ context.Context, req actionRequest) error {
			return session.ConfirmKeyword(req.Keyword)
		},
		"reconnect": func(ctx context.Context, _ actionRequest) error {
			return session.Reconnect(ctx)
		},
		"leave": func(context.Context, actionRequest) error {
			return session.Leave()
		},
	}

	for name, act := range actions {
		mux.POST(cfg.prefix+"/"+name, serveAction(cfg, name, act, errs))
	}
}
