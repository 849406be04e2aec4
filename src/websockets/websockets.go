// Package websockets pushes session state changes to live viewers.
//
// We don't track disconnects; we just keep trying to send on every
// registered socket. Tests are quick and updates are rare, so rather than
// carefully pruning dead connections (at the risk of dropping messages
// across a reconnect) we send best-effort, log failures, and let the
// session's short lifetime garbage collect the sockets.
package websockets

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/results-wang/pluslife-notifier/src/logging"
	"github.com/results-wang/pluslife-notifier/src/messages"
	"github.com/results-wang/pluslife-notifier/src/state"
)

// SessionSockets is the set of live viewers for one session.
type SessionSockets struct {
	mu      sync.Mutex
	sockets []*SessionSocket
}

// New returns an empty viewer set.
func New() *SessionSockets {
	return &SessionSockets{}
}

// Add registers a viewer connection and returns it along with the new
// viewer count.
func (s *SessionSockets) Add(conn *websocket.Conn) (*SessionSocket, int) {
	sock := &SessionSocket{conn: conn}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets = append(s.sockets, sock)
	return sock, len(s.sockets)
}

// Notify broadcasts the state snapshot to every viewer. Each send runs in
// its own goroutine and never blocks the caller; a failed send is logged
// and not retried.
func (s *SessionSockets) Notify(st state.State) {
	s.mu.Lock()
	sockets := make([]*SessionSocket, len(s.sockets))
	copy(sockets, s.sockets)
	s.mu.Unlock()
	if len(sockets) == 0 {
		return
	}
	payload, err := payloadFor(st)
	if err != nil {
		logging.Errorf("failed to build viewer message: %v", err)
		return
	}
	for _, sock := range sockets {
		sock.send(payload)
	}
}

// SessionSocket is one viewer connection. The mutex serializes writes;
// gorilla/websocket allows at most one concurrent writer.
type SessionSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Notify pushes the current snapshot to this viewer only (used right
// after a viewer connects).
func (s *SessionSocket) Notify(st state.State) {
	payload, err := payloadFor(st)
	if err != nil {
		logging.Errorf("failed to build viewer message: %v", err)
		return
	}
	s.send(payload)
}

func (s *SessionSocket) send(payload []byte) {
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logging.Errorf("error writing to websocket: %v", err)
		}
	}()
}

// ViewerMessage is the wire payload pushed on every state change. Both
// fields are null only for a freshly created session with no samples.
type ViewerMessage struct {
	GraphPNGBase64 *string        `json:"graph_png_base64"`
	Results        *ViewerResults `json:"results"`
}

// ViewerResults is the final verdict portion of a viewer push.
type ViewerResults struct {
	Overall         messages.DetectionResult  `json:"overall"`
	SubgroupResults []messages.SubgroupResult `json:"subgroup_results"`
}

// MessageFor builds the viewer payload for a state snapshot.
func MessageFor(st state.State) (*ViewerMessage, error) {
	switch s := st.(type) {
	case *state.CompletedTest:
		encoded := base64.StdEncoding.EncodeToString(s.GraphPNG)
		subgroups := make([]messages.SubgroupResult, len(s.SubgroupResults))
		for i, sub := range s.SubgroupResults {
			subgroups[i] = messages.SubgroupResult{Name: sub.DisplayName(), Result: sub.Result}
		}
		return &ViewerMessage{
			GraphPNGBase64: &encoded,
			Results: &ViewerResults{
				Overall:         s.Overall,
				SubgroupResults: subgroups,
			},
		}, nil
	default:
		png, err := st.CurrentGraphPNG()
		if err != nil {
			return nil, err
		}
		if png == nil {
			return &ViewerMessage{}, nil
		}
		encoded := base64.StdEncoding.EncodeToString(png)
		return &ViewerMessage{GraphPNGBase64: &encoded}, nil
	}
}

func payloadFor(st state.State) ([]byte, error) {
	msg, err := MessageFor(st)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
