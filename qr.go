/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize    = 320
	qrMinSize = 128
	qrMaxSize = 1024
)

// inviteURL points other players at the room on the game server itself,
// not at this control page.
func inviteURL(server, roomID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}

	return u.JoinPath("rooms", url.PathEscape(roomID)).String(), nil
}

func qrSizeOf(r *http.Request) int {
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		return qrSize
	}

	return min(max(size, qrMinSize), qrMaxSize)
}

func serveInviteQR(cfg *Config, roomID string, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		invite, err := inviteURL(cfg.server, roomID)
		if err != nil {
			http.Error(w, "invalid server url", http.StatusInternalServerError)

			return
		}

		png, err := qrcode.Encode(invite, qrcode.Medium, qrSizeOf(r))
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Header().Set("X-Invite-URL", invite)
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Invite QR (%s) for %s to %s in %s",
			humanReadableSize(int64(written)),
			invite,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
