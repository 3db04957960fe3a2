package backendtest

import (
	"net/http"
	"time"

	phantommodels "github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// SetInitialStatus makes every new status connection for id receive u first.
func (s *Server) SetInitialStatus(id string, u phantommodels.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialStatus[id] = u
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade status connection")
		return
	}

	s.mu.Lock()
	initial, hasInitial := s.initialStatus[id]
	s.mu.Unlock()
	if hasInitial {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			_ = conn.Close()
			return
		}
	}

	s.mu.Lock()
	s.statusConns[id] = append(s.statusConns[id], conn)
	s.statusCond.Broadcast()
	s.mu.Unlock()

	// Drain until the client goes away so close frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	conns := s.statusConns[id]
	for i, c := range conns {
		if c == conn {
			s.statusConns[id] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	s.statusCond.Broadcast()
	s.mu.Unlock()
	_ = conn.Close()
}

// StatusConnections returns how many status sockets are open for id.
func (s *Server) StatusConnections(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statusConns[id])
}

// WaitStatusConnections blocks until id has exactly n open status sockets
// or the timeout passes.
func (s *Server) WaitStatusConnections(id string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.statusCond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.statusConns[id]) != n {
		if !time.Now().Before(deadline) {
			return false
		}
		s.statusCond.Wait()
	}
	return true
}

// PushStatus sends u to every open status socket for id and returns how many received it.
func (s *Server) PushStatus(id string, u phantommodels.StatusUpdate) int {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.statusConns[id]...)
	s.mu.Unlock()

	sent := 0
	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(u); err == nil {
			sent++
		}
	}
	return sent
}

// PushRaw sends an arbitrary text message to every status socket for id.
func (s *Server) PushRaw(id, msg string) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.statusConns[id]...)
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

// DropStatus abruptly closes every status socket for id.
func (s *Server) DropStatus(id string) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.statusConns[id]...)
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Progress is a helper for building status updates with progress.
func Progress(p float64) *float64 {
	return &p
}
