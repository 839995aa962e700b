package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// SolveStreamHandler streams solve job status events over WebSocket:
// GET /v1/plans/{planId}/solve/{taskId}/stream. The current job state
// is sent first so late subscribers see the terminal status.
func (s *Server) SolveStreamHandler(w http.ResponseWriter, r *http.Request, planID, taskID string) {
	ctx, tenant := s.withTenant(r)

	job, err := s.Solver.Status(ctx, tenant, planID, taskID)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Solve job not found", "", r.URL.Path)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(taskID)
	defer s.Broker.Unsubscribe(taskID, ch)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(map[string]any{
		"type": "solve.status",
		"data": map[string]any{"taskId": job.TaskID, "status": job.Status, "message": job.Message},
	}); err != nil {
		return
	}

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
