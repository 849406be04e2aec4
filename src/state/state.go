// Package state implements the test-run protocol state machine. A run is
// either still collecting data (IncompleteTest) or finished
// (CompletedTest); Update folds one device message into the current state
// or explains why it cannot.
package state

import (
	"fmt"

	"github.com/results-wang/pluslife-notifier/src/graph"
	"github.com/results-wang/pluslife-notifier/src/messages"
)

// State is the protocol state of one session. Implementations are
// IncompleteTest and CompletedTest; values are immutable once built.
type State interface {
	// CurrentGraphPNG returns the chart for this state, or nil when no
	// data has arrived yet.
	CurrentGraphPNG() ([]byte, error)

	sealed()
}

// IncompleteTest is a run still in progress, holding the latest cumulative
// data snapshot from the device.
type IncompleteTest struct {
	Data messages.TestData
}

// CompletedTest is a finished run's final verdict and rendered chart. It
// accepts no further transitions.
type CompletedTest struct {
	Overall         messages.DetectionResult
	SubgroupResults []messages.SubgroupResult
	GraphPNG        []byte
}

func (*IncompleteTest) sealed() {}
func (*CompletedTest) sealed()  {}

// Started returns the initial state for a new session.
func Started() State {
	return &IncompleteTest{Data: messages.EmptyTestData()}
}

func incomplete(data messages.TestData) State {
	return &IncompleteTest{Data: data}
}

// ErrorKind classifies an update failure. Whether a failure is
// recoverable is a property of the kind, carried as the Restore state.
type ErrorKind int

const (
	// KindTestFinishedMissingResult: TEST_FINISHED arrived without a
	// result payload. The session is meaningless without one.
	KindTestFinishedMissingResult ErrorKind = iota
	// KindUnexpectedMessage: the event is not valid in the current state.
	KindUnexpectedMessage
	// KindGraph: the final data could not be charted (bad channel index
	// or render failure).
	KindGraph
)

func (k ErrorKind) String() string {
	switch k {
	case KindTestFinishedMissingResult:
		return "test finished without a result"
	case KindUnexpectedMessage:
		return "unexpected message"
	case KindGraph:
		return "failed to generate graph"
	}
	return "unknown error"
}

// UpdateError is a failed transition. Restore, when non-nil, is the state
// the session should keep; a nil Restore means the session must be
// discarded.
type UpdateError struct {
	Kind    ErrorKind
	Event   messages.Event
	Restore State
	Cause   error
}

func (e *UpdateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (event %s): %v", e.Kind, e.Event, e.Cause)
	}
	return fmt.Sprintf("%s (event %s)", e.Kind, e.Event)
}

func (e *UpdateError) Unwrap() error { return e.Cause }

// Update applies one device message to the current state. It is pure:
// notification of viewers and email dispatch are the caller's concern.
func Update(current State, msg *messages.Message) (State, *UpdateError) {
	switch s := current.(type) {
	case *IncompleteTest:
		switch msg.Event {
		case messages.EventTestFinished:
			if msg.Test.Result == nil {
				return nil, &UpdateError{Kind: KindTestFinishedMissingResult, Event: msg.Event}
			}
			completed, err := complete(msg.Test.Result, msg.Test.Data)
			if err != nil {
				return nil, &UpdateError{Kind: KindGraph, Event: msg.Event, Cause: err}
			}
			return completed, nil
		case messages.EventNewData, messages.EventDeviceReady, messages.EventTestStarted:
			// Cumulative snapshot: replace, never merge.
			return incomplete(msg.Test.Data), nil
		default:
			return nil, &UpdateError{Kind: KindUnexpectedMessage, Event: msg.Event, Restore: s}
		}
	case *CompletedTest:
		// A finished session keeps serving its final state to stragglers.
		return nil, &UpdateError{Kind: KindUnexpectedMessage, Event: msg.Event, Restore: s}
	}
	return nil, &UpdateError{Kind: KindUnexpectedMessage, Event: msg.Event}
}

func complete(result *messages.TestResult, data messages.TestData) (*CompletedTest, error) {
	g, err := graph.FromTestData(&data)
	if err != nil {
		return nil, err
	}
	png, err := g.NormaliseValuesToZero().RenderPNG()
	if err != nil {
		return nil, err
	}
	return &CompletedTest{
		Overall:         result.DetectionResult,
		SubgroupResults: result.SubgroupResults,
		GraphPNG:        png,
	}, nil
}

// CurrentGraphPNG renders the chart from the data so far. Nil before the
// first sample: there is nothing meaningful to draw yet.
func (s *IncompleteTest) CurrentGraphPNG() ([]byte, error) {
	if len(s.Data.Samples) == 0 {
		return nil, nil
	}
	g, err := graph.FromTestData(&s.Data)
	if err != nil {
		return nil, err
	}
	return g.NormaliseValuesToZero().RenderPNG()
}

// CurrentGraphPNG returns the chart rendered at completion time.
func (s *CompletedTest) CurrentGraphPNG() ([]byte, error) {
	return s.GraphPNG, nil
}
