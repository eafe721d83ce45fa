package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type initialJobs struct {
	Type string    `json:"type"`
	Jobs []jobView `json:"jobs"`
}

func (a *App) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range a.Origins {
				allowed = strings.TrimRight(allowed, "/")
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Events upgrades to a websocket, sends the recent jobs and then streams
// job events until the client disconnects.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Debug().Err(err).Msg("http: websocket upgrade failed")
		return
	}

	snapshot := initialJobs{Type: "initial_jobs", Jobs: []jobView{}}
	if jobs, err := a.Jobs.List(r.Context(), recentJobsLimit); err == nil {
		for i := range jobs {
			snapshot.Jobs = append(snapshot.Jobs, newJobView(&jobs[i]))
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(snapshot); err != nil {
		_ = conn.Close()
		return
	}
	a.Hub.Attach(conn)
}
