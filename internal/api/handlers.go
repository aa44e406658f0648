package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/collabcode/relay/internal/relay"
	"github.com/gorilla/websocket"
)

type HealthResponse struct {
	Status            string    `json:"status"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	ActiveConnections int       `json:"activeConnections"`
	ActiveProjects    int       `json:"activeProjects"`
	Timestamp         time.Time `json:"timestamp"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// healthCheck reports process liveness for external orchestration. A down
// persistence store degrades the report but never fails it: the relay's
// correctness does not depend on persistence.
func (s *RelayApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := s.store.Ping(); err != nil {
		s.log.Printf("store ping: %v", err)
		status = "degraded"
	}

	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:            status,
		UptimeSeconds:     time.Since(s.startTime).Seconds(),
		ActiveConnections: s.rs.ConnectionCount(),
		ActiveProjects:    s.rs.RoomCount(),
		Timestamp:         time.Now().UTC(),
	})
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.identityFromRequest(r)
	if err != nil {
		s.log.Printf("handshake rejected: %v", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.allowedOrigins) == 0 {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := relay.NewClient(user, conn, s.rs, s.log)
	if err != nil {
		s.log.Println("new client:", err)
		conn.Close()
		return
	}

	s.rs.RegisterChan <- client

	go client.Write()
	go client.Read()

	client.SendConnectionEstablished()

	// joining at handshake time is optional; clients can also issue
	// join-project events later
	if projectId := r.URL.Query().Get("projectId"); projectId != "" {
		client.Join(projectId)
	}
}
