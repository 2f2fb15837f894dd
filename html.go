/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/songroom/room"
)

var homeTemplate = template.Must(template.New("home").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Format("15:04:05") },
}).Parse(`<!DOCTYPE html><html lang="en"><head>
<meta charset="utf-8"><meta http-equiv="refresh" content="2">
<title>{{with .Room.Name}}{{.}}{{else}}{{.Room.ID}}{{end}} | songroom</title>
<style>body{font-family:sans-serif;margin:2em;}table{border-collapse:collapse;}td,th{padding:0 1em 0 0;text-align:left;}.warn{color:#b35900;}.error{color:#b30000;}</style>
</head><body>
<h1>{{with .Room.Name}}{{.}}{{else}}{{.Room.ID}}{{end}}</h1>
<p>Phase: <b>{{.Stage.Phase}}</b>{{if .Stage.Round.Index}} | Round {{.Stage.Round.Index}}{{with .Stage.Round.MaxRounds}} of {{.}}{{end}}{{end}}{{with .Stage.Round.Keyword}} | Keyword: {{.}}{{end}}{{with .Stage.Round.Turn}} | Turn: {{.}}{{end}}</p>
{{if .Closed}}<p class="error">Left the room.</p>{{else if .ReconnectNeeded}}<p class="error">Connection lost. POST /reconnect or /leave.</p>{{end}}
{{if .Stalled}}<p class="warn">Waiting for the server to resync.</p>{{end}}
{{if .MicDenied}}<p class="warn">Microphone unavailable.</p>{{end}}
<h2>Players{{if .AllReady}} (all ready){{end}}</h2>
<table><tr><th>Player</th><th>Host</th><th>Ready</th><th>Mic</th></tr>
{{range .Participants}}<tr><td>{{with .Nickname}}{{.}}{{else}}{{.ID}}{{end}}{{if eq .ID $.Local}} (you){{end}}</td><td>{{if .Host}}yes{{end}}</td><td>{{if .Ready}}yes{{end}}</td><td>{{if .MicReady}}yes{{end}}</td></tr>
{{end}}</table>
<h2>Scores</h2>
<ol>{{range .Scores}}<li>{{.ParticipantID}}: {{.Score}}</li>{{end}}</ol>
<h2>Chat</h2>
<ul>{{range .Chat}}<li>{{clock .At}} {{if eq .Kind "talk"}}<b>{{with .Sender}}{{.}}{{else}}{{.SenderID}}{{end}}</b>: {{end}}{{.Text}}</li>{{end}}</ul>
{{with .Notices}}<h2>Notices</h2><ul>{{range .}}<li class="{{.Level}}">{{clock .At}} {{.Text}}</li>{{end}}</ul>{{end}}
</body></html>`))

func serveHomePage(cfg *Config, session controller, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var buf bytes.Buffer
		if err := homeTemplate.Execute(&buf, session.Snapshot()); err != nil {
			errs <- err

			http.Error(w, "render failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		securityHeaders(cfg, w)

		written, err := w.Write(buf.Bytes())
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Home page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveHealthCheck fails once the session needs a reconnect or is gone.
func serveHealthCheck(cfg *Config, session controller, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		status, body := healthOf(session.Snapshot())
		w.WriteHeader(status)

		_, err := w.Write([]byte(body))
		if err != nil {
			errs <- err

			return
		}
	}
}

func healthOf(s room.Snapshot) (int, string) {
	switch {
	case s.Closed:
		return http.StatusServiceUnavailable, "Closed\n"
	case s.ReconnectNeeded || !s.Alive:
		return http.StatusServiceUnavailable, "Reconnect needed\n"
	case s.Stalled:
		return http.StatusOK, "Stalled\n"
	default:
		return http.StatusOK, "Ok\n"
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := "User-agent: *\nDisallow: /\n"

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
