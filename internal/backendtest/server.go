// Package backendtest runs an in-process phantom backend for client tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	chatmodels "github.com/chatphantom/phantomchat/internal/domain/chat/models"
	phantommodels "github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/chatphantom/phantomchat/pkg/httpext"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ChatScript writes the reply stream for one turn.
type ChatScript func(w *StreamWriter, req chatmodels.ChatRequest)

// CreateFailure lets a test reject phantom creation with a status and detail.
type CreateFailure func(req phantommodels.CreateRequest) (int, string)

// Request is a recorded inbound request.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

// Server is a fake of the phantom API backed by httptest.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	phantoms      []phantommodels.Phantom
	history       map[string][]chatmodels.Message
	chatScript    ChatScript
	createFailure CreateFailure
	chatRequests  []chatmodels.ChatRequest
	requests      []Request
	recrawled     []string
	statusConns   map[string][]*websocket.Conn
	initialStatus map[string]phantommodels.StatusUpdate
	statusCond    *sync.Cond
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// New starts a fake backend. Close it with Server.Close.
func New() *Server {
	s := &Server{
		history:       make(map[string][]chatmodels.Message),
		statusConns:   make(map[string][]*websocket.Conn),
		initialStatus: make(map[string]phantommodels.StatusUpdate),
		chatScript:    EchoScript,
	}
	s.statusCond = sync.NewCond(&s.mu)
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.record)

	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/chat/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/phantoms", s.handleListPhantoms).Methods(http.MethodGet)
	r.HandleFunc("/phantoms", s.handleCreatePhantom).Methods(http.MethodPost)
	r.HandleFunc("/phantoms/{id}", s.handleRenamePhantom).Methods(http.MethodPut)
	r.HandleFunc("/phantoms/{id}", s.handleDeletePhantom).Methods(http.MethodDelete)
	r.HandleFunc("/phantoms/{id}/recrawl", s.handleRecrawl).Methods(http.MethodPost)
	r.HandleFunc("/ws/phantom/{id}", s.handleStatus)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "not found", http.StatusNotFound)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// WSURL is the websocket base URL of the fake.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Requests returns a copy of everything received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ChatRequests returns the decoded bodies of every turn submission.
func (s *Server) ChatRequests() []chatmodels.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatmodels.ChatRequest(nil), s.chatRequests...)
}

// SetChatScript replaces the reply script for subsequent turns.
func (s *Server) SetChatScript(script ChatScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatScript = script
}

// SetCreateFailure installs a rejection rule for phantom creation.
func (s *Server) SetCreateFailure(fn CreateFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailure = fn
}

// AddPhantom seeds a phantom.
func (s *Server) AddPhantom(p phantommodels.Phantom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phantoms = append(s.phantoms, p)
}

// Phantoms returns the current phantom list.
func (s *Server) Phantoms() []phantommodels.Phantom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]phantommodels.Phantom(nil), s.phantoms...)
}

// Recrawled lists the phantom IDs that received a recrawl request.
func (s *Server) Recrawled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recrawled...)
}

// SeedHistory stores n alternating messages for id, oldest first, with
// timestamps 1..n.
func (s *Server) SeedHistory(id string, n int) []chatmodels.Message {
	msgs := make([]chatmodels.Message, n)
	for i := range msgs {
		role := chatmodels.RoleUser
		if i%2 == 1 {
			role = chatmodels.RoleAssistant
		}
		msgs[i] = chatmodels.Message{
			Role:      role,
			Content:   fmt.Sprintf("message %d", i+1),
			Timestamp: chatmodels.Cursor(strconv.Itoa(i + 1)),
		}
	}
	s.mu.Lock()
	s.history[id] = msgs
	s.mu.Unlock()
	return msgs
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatmodels.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpext.JsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{Detail: "user_input is required"})
		return
	}

	s.mu.Lock()
	s.chatRequests = append(s.chatRequests, req)
	script := s.chatScript
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	sw := &StreamWriter{w: w, r: r}
	sw.Flush()
	script(sw, req)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{Detail: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	s.mu.Lock()
	all := s.history[id]
	s.mu.Unlock()

	end := len(all)
	if raw := r.URL.Query().Get("before_timestamp"); raw != "" {
		before, err := strconv.Atoi(raw)
		if err != nil {
			httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{Detail: "invalid before_timestamp"})
			return
		}
		end = 0
		for end < len(all) {
			ts, _ := strconv.Atoi(all[end].Timestamp.String())
			if ts >= before {
				break
			}
			end++
		}
	}
	start := max(0, end-limit)

	page := chatmodels.HistoryPage{
		Messages: append([]chatmodels.Message{}, all[start:end]...),
		HasMore:  start > 0,
	}
	if page.HasMore {
		next := all[start].Timestamp
		page.NextTimestamp = &next
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListPhantoms(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("user_id") == "" {
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{Detail: "user_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.Phantoms())
}

func (s *Server) handleCreatePhantom(w http.ResponseWriter, r *http.Request) {
	var req phantommodels.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpext.JsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fail := s.createFailure
	s.mu.Unlock()
	if fail != nil {
		if code, detail := fail(req); code != 0 {
			httpext.JsonErrorWithDetails(w, code, httpext.ErrorResponse{Detail: detail})
			return
		}
	}

	p := phantommodels.Phantom{
		ID:         uuid.NewString(),
		Name:       req.Name,
		WebsiteURL: req.WebsiteURL,
	}
	s.AddPhantom(p)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleRenamePhantom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req phantommodels.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpext.JsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.phantoms {
		if s.phantoms[i].ID == id {
			s.phantoms[i].Name = req.Name
			writeJSON(w, http.StatusOK, s.phantoms[i])
			return
		}
	}
	httpext.JsonErrorWithDetails(w, http.StatusNotFound, httpext.ErrorResponse{Detail: "phantom not found"})
}

func (s *Server) handleDeletePhantom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.phantoms {
		if s.phantoms[i].ID == id {
			s.phantoms = append(s.phantoms[:i], s.phantoms[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	httpext.JsonErrorWithDetails(w, http.StatusNotFound, httpext.ErrorResponse{Detail: "phantom not found"})
}

func (s *Server) handleRecrawl(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	s.recrawled = append(s.recrawled, id)
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"phantom_id": id, "status": string(phantommodels.StatusPending)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
