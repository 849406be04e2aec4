// Package server exposes the HTTP surface: session creation, the device
// webhook (the ingestion path), the live chart and viewer endpoints, and
// a couple of introspection helpers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/mail"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/results-wang/pluslife-notifier/src/logging"
	"github.com/results-wang/pluslife-notifier/src/messages"
	"github.com/results-wang/pluslife-notifier/src/notifier"
	"github.com/results-wang/pluslife-notifier/src/sessions"
	"github.com/results-wang/pluslife-notifier/src/state"
)

// Server wires the registry and notifier behind the HTTP routes.
type Server struct {
	Registry *sessions.Registry
	Notifier *notifier.Notifier
	BaseURL  string

	// DumpWriter receives the JSONL lines of the dump endpoint. Defaults
	// to stdout.
	DumpWriter io.Writer

	upgrader websocket.Upgrader
}

// New returns a server over the given registry and notifier. baseURL is
// the externally visible root used to build webhook URLs.
func New(registry *sessions.Registry, n *notifier.Notifier, baseURL string) *Server {
	return &Server{
		Registry:   registry,
		Notifier:   n,
		BaseURL:    baseURL,
		DumpWriter: os.Stdout,
		upgrader: websocket.Upgrader{
			// Same open policy as the CORS layer: webhook senders and
			// viewers are not authenticated.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the full route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /session/create", s.createSession)
	mux.HandleFunc("POST /session/{id}/data", s.receiveData)
	mux.HandleFunc("GET /session/{id}/data", s.webhookHint)
	mux.HandleFunc("GET /session/{id}/graph", s.graph)
	mux.HandleFunc("GET /session/{id}/live", s.live)
	mux.HandleFunc("POST /dump", s.dump)
	mux.HandleFunc("GET /sessions/count", s.countSessions)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var sessionCreatedTmpl = template.Must(template.New("session-created").Parse(`<!DOCTYPE html>
<html>
<head><title>Session created</title></head>
<body>
<h2>Session created</h2>
<p>Results will be sent to <strong>{{.Email}}</strong>.</p>
<p>Point your device's webhook at:</p>
<pre>{{.BaseURL}}/session/{{.ID}}/data</pre>
</body>
</html>
`))

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	if _, err := mail.ParseAddress(email); err != nil {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	id := s.Registry.Create(email)
	logging.Infof("created session %s for %s", id, email)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := sessionCreatedTmpl.Execute(w, struct {
		ID      uuid.UUID
		Email   string
		BaseURL string
	}{ID: id, Email: email, BaseURL: s.BaseURL})
	if err != nil {
		logging.Errorf("failed to render session-created page: %v", err)
	}
}

// receiveData is the ingestion path for one device webhook. The session
// is removed from the registry for the duration of the update; while held
// it is simply absent, so a concurrent webhook for the same id fails with
// "unknown id" rather than interleaving.
func (s *Server) receiveData(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Unknown ID", http.StatusNotFound)
		return
	}
	msg, err := messages.DecodeStrict(r.Body)
	if err != nil {
		logging.Errorf("session %s: failed to parse message: %v", id, err)
		http.Error(w, "Failed to parse message", http.StatusBadRequest)
		return
	}
	session := s.Registry.Remove(id)
	if session == nil {
		logging.Errorf("received data for unknown session %s", id)
		http.Error(w, "Unknown ID", http.StatusNotFound)
		return
	}

	newState, uerr := state.Update(session.State, msg)
	if uerr != nil {
		if uerr.Restore != nil {
			logging.Errorf("session %s: recoverable error processing data: %v", id, uerr)
			s.Registry.Insert(id, session.WithState(uerr.Restore))
			session.Viewers.Notify(uerr.Restore)
		} else {
			logging.Errorf("session %s: irrecoverable error processing data: %v", id, uerr)
			reason := fmt.Sprintf("Irrecoverable error processing data: %v", uerr)
			go s.sendErrorEmail(session, reason)
		}
		http.Error(w, "Failed to process data", http.StatusBadRequest)
		return
	}

	if completed, ok := newState.(*state.CompletedTest); ok {
		// Terminal: the session leaves the registry for good.
		logging.Infof("session %s: received results", id)
		session.Viewers.Notify(completed)
		go s.sendResultEmail(session, completed)
	} else {
		logging.Debugf("session %s: received updated data (%s)", id, msg.Event)
		s.Registry.Insert(id, session.WithState(newState))
		session.Viewers.Notify(newState)
	}
	fmt.Fprint(w, "Received")
}

func (s *Server) sendResultEmail(session *sessions.Session, completed *state.CompletedTest) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Notifier.NotifyResult(ctx, completed, session.EmailToNotify); err != nil {
		logging.Errorf("session %s: error notifying of result: %v", session.ID, err)
		reason := fmt.Sprintf("Error notifying of result: %v", err)
		if err := s.Notifier.NotifyError(ctx, session.ID, reason, session.EmailToNotify); err != nil {
			logging.Errorf("session %s: error sending error notification: %v", session.ID, err)
		}
	}
}

func (s *Server) sendErrorEmail(session *sessions.Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Notifier.NotifyError(ctx, session.ID, reason, session.EmailToNotify); err != nil {
		logging.Errorf("session %s: error sending error notification: %v", session.ID, err)
	}
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, unknownTestText, http.StatusNotFound)
		return
	}
	session := s.Registry.Get(id)
	if session == nil {
		http.Error(w, unknownTestText, http.StatusNotFound)
		return
	}
	png, err := session.State.CurrentGraphPNG()
	switch {
	case err != nil:
		logging.Errorf("session %s: error generating graph for display: %v", id, err)
		http.Error(w, "Sorry, an error occurred", http.StatusInternalServerError)
	case png == nil:
		http.Error(w, "No data has been received for this test yet. Please refresh the page when you expect there to be data.", http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}
}

const unknownTestText = "This test ID was not recognised. Either it has not been registered, or the test has already finished."

func (s *Server) webhookHint(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil || s.Registry.Get(id) == nil {
		http.Error(w, "Unknown ID", http.StatusNotFound)
		return
	}
	fmt.Fprint(w, "This link is only intended to be used as a webhook. Open 'Settings' in the app and put it in the 'Webhook URL' field.")
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Unknown ID", http.StatusNotFound)
		return
	}
	session := s.Registry.Get(id)
	if session == nil {
		http.Error(w, "Unknown ID", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("session %s: websocket upgrade failed: %v", id, err)
		return
	}
	sock, count := session.Viewers.Add(conn)
	logging.Infof("session %s: viewer connected (%d total)", id, count)
	// New viewers get the current snapshot right away.
	sock.Notify(session.State)
	// Drain the read side for control frames; viewers never send data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()
}

func (s *Server) dump(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Failed to parse message", http.StatusBadRequest)
		return
	}
	line, err := json.Marshal(struct {
		Message   json.RawMessage `json:"message"`
		Timestamp time.Time       `json:"timestamp"`
	}{Message: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		http.Error(w, "Sorry, an error occurred", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(s.DumpWriter, "%s\n", line)
	fmt.Fprint(w, "Received")
}

func (s *Server) countSessions(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%d", s.Registry.Count())
}
