// Package messages defines the wire types pushed by a PlusLife device
// during a test run. Decoding is strict: unknown JSON fields and unknown
// enum values are rejected rather than ignored, so firmware changes
// surface as parse failures instead of silently dropped data.
package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ChannelCount is the fixed number of measurement channels a device
// reports. A sample addressing a channel at or beyond this bound is a
// data error.
const ChannelCount = 7

// Message is the body of one device webhook.
type Message struct {
	Version int    `json:"version"`
	Event   Event  `json:"event"`
	Device  Device `json:"device"`
	Test    Test   `json:"test"`
}

// Event identifies what the device is reporting.
type Event string

const (
	EventTestStarted    Event = "TEST_STARTED"
	EventContinueTest   Event = "CONTINUE_TEST"
	EventTestFinished   Event = "TEST_FINISHED"
	EventNewData        Event = "NEW_DATA"
	EventDeviceReady    Event = "DEVICE_READY"
	EventAlreadyTesting Event = "ALREADY_TESTING"
)

// UnmarshalJSON rejects event names outside the known set.
func (e *Event) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch Event(s) {
	case EventTestStarted, EventContinueTest, EventTestFinished,
		EventNewData, EventDeviceReady, EventAlreadyTesting:
		*e = Event(s)
		return nil
	}
	return fmt.Errorf("unknown event %q", s)
}

func (e Event) String() string { return string(e) }

// DegreesC is a temperature in degrees Celsius.
type DegreesC float64

// Device carries the reporting device's metadata.
type Device struct {
	HardwareVersion string    `json:"hwVersion"`
	SoftwareVersion string    `json:"swVersion"`
	DeviceModel     string    `json:"deviceModel"`
	SerialNumber    uint64    `json:"sn"`
	Configuration   string    `json:"configuration"`
	CurrentTemp     *DegreesC `json:"currentTemp"`
	TargetTemp      *DegreesC `json:"targetTemp"`
}

// Test is the device's view of the test run at the time of the webhook.
type Test struct {
	Data   TestData    `json:"data"`
	State  TestState   `json:"state"`
	Result *TestResult `json:"result"`
}

// TestState is the device-reported phase of the run.
type TestState string

const (
	TestStateIdle    TestState = "IDLE"
	TestStateTesting TestState = "TESTING"
	TestStateDone    TestState = "DONE"
)

func (s *TestState) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch TestState(str) {
	case TestStateIdle, TestStateTesting, TestStateDone:
		*s = TestState(str)
		return nil
	}
	return fmt.Errorf("unknown test state %q", str)
}

// TestData is a cumulative snapshot of everything sampled so far. The
// device resends the full history each time, so holders replace rather
// than merge.
type TestData struct {
	Samples            []TestSample        `json:"samples"`
	TemperatureSamples []TemperatureSample `json:"temperatureSamples"`
}

// EmptyTestData returns a TestData with no samples.
func EmptyTestData() TestData {
	return TestData{Samples: []TestSample{}, TemperatureSamples: []TemperatureSample{}}
}

// TestSample is one measurement on one channel.
type TestSample struct {
	CurrentDataIndex   int      `json:"currentDataIndex"`
	FirstChannelResult int64    `json:"firstChannelResult"`
	NumberOfChannels   int      `json:"numberOfChannels"`
	SampleStreamNumber int64    `json:"sampleStreamNumber"`
	SampleType         int64    `json:"sampleType"`
	SamplingTemp       DegreesC `json:"samplingTemperature"`
	// SamplingTime is hundred-milliseconds since the start of the test.
	SamplingTime     uint64 `json:"samplingTime"`
	StartingChannel  int    `json:"startingChannel"`
	TotalSampleCount int    `json:"totalNumberOfSamples"`
}

// TemperatureSample is one heater temperature reading.
type TemperatureSample struct {
	Time time.Time `json:"time"`
	Temp DegreesC  `json:"temp"`
}

// TestResult is the device's final verdict, present only on TEST_FINISHED.
type TestResult struct {
	DetectionType       int64             `json:"detectionType"`
	DetectionFlowNumber int64             `json:"detectionFlowNumber"`
	DetectionResult     DetectionResult   `json:"detectionResult"`
	NumberOfChannels    int               `json:"numberOfChannels"`
	StartingChannel     int               `json:"startingChannel"`
	ChannelResults      []DetectionResult `json:"channelResults"`
	NumberOfSubgroups   int               `json:"numberOfSubGroups"`
	SubgroupResults     []SubgroupResult  `json:"subGroupResults"`
}

// SubgroupResult is a named partial outcome within the overall result.
type SubgroupResult struct {
	Name   string          `json:"name"`
	Result DetectionResult `json:"result"`
}

// DisplayName expands the device's shorthand subgroup labels for
// human-facing output (emails, viewer pushes).
func (r SubgroupResult) DisplayName() string {
	if r.Name == "IC" {
		return "Control"
	}
	return r.Name
}

// DetectionResult is a test verdict, overall or per subgroup.
type DetectionResult string

const (
	ResultPositive DetectionResult = "POSITIVE"
	ResultNegative DetectionResult = "NEGATIVE"
	ResultInvalid  DetectionResult = "INVALID"
)

func (r *DetectionResult) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch DetectionResult(s) {
	case ResultPositive, ResultNegative, ResultInvalid:
		*r = DetectionResult(s)
		return nil
	}
	return fmt.Errorf("unknown detection result %q", s)
}

// Display renders the result for human-readable output (emails, pages).
func (r DetectionResult) Display() string {
	switch r {
	case ResultPositive:
		return "Positive"
	case ResultNegative:
		return "Negative"
	case ResultInvalid:
		return "Invalid"
	}
	return string(r)
}

// LogWrapper is one line of a timestamped webhook capture, as written by
// the dump endpoint and consumed by the replay tool.
type LogWrapper struct {
	Timestamp time.Time `json:"timestamp"`
	Message   Message   `json:"message"`
}

// DecodeStrict decodes a Message from r, rejecting unknown fields at any
// nesting level and trailing garbage after the JSON document.
func DecodeStrict(r io.Reader) (*Message, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing data after message")
	}
	return &msg, nil
}

// DecodeStrictBytes is DecodeStrict over an in-memory payload.
func DecodeStrictBytes(b []byte) (*Message, error) {
	return DecodeStrict(bytes.NewReader(b))
}
