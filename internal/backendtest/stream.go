package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	chatmodels "github.com/chatphantom/phantomchat/internal/domain/chat/models"
)

// StreamWriter writes push frames to one turn's response.
type StreamWriter struct {
	w http.ResponseWriter
	r *http.Request
}

// Raw writes s verbatim and flushes.
func (sw *StreamWriter) Raw(s string) {
	_, _ = fmt.Fprint(sw.w, s)
	sw.Flush()
}

// Delta writes a partial frame carrying the cumulative text.
func (sw *StreamWriter) Delta(text string) {
	sw.frame(map[string]any{"delta": text})
}

// Final writes the terminal frame.
func (sw *StreamWriter) Final(text string) {
	sw.frame(map[string]any{"done": true, "final": text})
}

func (sw *StreamWriter) frame(v any) {
	data, _ := json.Marshal(v)
	sw.Raw("data: " + string(data) + "\n\n")
}

func (sw *StreamWriter) Flush() {
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Wait blocks until release is closed or the client goes away.
func (sw *StreamWriter) Wait(release <-chan struct{}) {
	select {
	case <-release:
	case <-sw.r.Context().Done():
	}
}

// Sleep pauses for d unless the client goes away first.
func (sw *StreamWriter) Sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-sw.r.Context().Done():
	}
}

// Reply returns a script that streams text word by word and then finishes.
func Reply(text string) ChatScript {
	return func(w *StreamWriter, _ chatmodels.ChatRequest) {
		words := strings.Fields(text)
		for i := range words {
			w.Delta(strings.Join(words[:i+1], " "))
		}
		w.Final(text)
	}
}

// Frames returns a script that writes the given raw strings in order.
func Frames(raw ...string) ChatScript {
	return func(w *StreamWriter, _ chatmodels.ChatRequest) {
		for _, s := range raw {
			w.Raw(s)
		}
	}
}

// EchoScript answers every turn with "echo: <input>".
func EchoScript(w *StreamWriter, req chatmodels.ChatRequest) {
	Reply("echo: "+req.UserInput)(w, req)
}
