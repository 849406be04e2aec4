package messages

import (
	"encoding/json"
	"strings"
	"testing"
)

const validMessageJSON = `{
	"version": 1,
	"event": "NEW_DATA",
	"device": {
		"hwVersion": "1.0",
		"swVersion": "2.3",
		"deviceModel": "PlusLife",
		"sn": 12345,
		"configuration": "standard",
		"currentTemp": 64.5,
		"targetTemp": 65.0
	},
	"test": {
		"data": {
			"samples": [{
				"currentDataIndex": 0,
				"firstChannelResult": 5,
				"numberOfChannels": 1,
				"sampleStreamNumber": 1,
				"sampleType": 1,
				"samplingTemperature": 64.2,
				"samplingTime": 600,
				"startingChannel": 0,
				"totalNumberOfSamples": 1
			}],
			"temperatureSamples": []
		},
		"state": "TESTING",
		"result": null
	}
}`

func TestDecodeStrictValid(t *testing.T) {
	msg, err := DecodeStrictBytes([]byte(validMessageJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != EventNewData {
		t.Fatalf("event = %q, want %q", msg.Event, EventNewData)
	}
	if msg.Device.SerialNumber != 12345 {
		t.Fatalf("sn = %d, want 12345", msg.Device.SerialNumber)
	}
	if len(msg.Test.Data.Samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(msg.Test.Data.Samples))
	}
	s := msg.Test.Data.Samples[0]
	if s.FirstChannelResult != 5 || s.SamplingTime != 600 || s.StartingChannel != 0 {
		t.Fatalf("unexpected sample: %+v", s)
	}
	if msg.Test.Result != nil {
		t.Fatalf("result should be nil, got %+v", msg.Test.Result)
	}
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"top level", strings.Replace(validMessageJSON, `"version": 1,`, `"version": 1, "surprise": true,`, 1)},
		{"nested device", strings.Replace(validMessageJSON, `"sn": 12345,`, `"sn": 12345, "battery": 80,`, 1)},
		{"nested sample", strings.Replace(validMessageJSON, `"sampleType": 1,`, `"sampleType": 1, "extra": 0,`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeStrictBytes([]byte(tc.json)); err == nil {
				t.Fatalf("expected unknown-field error, got nil")
			}
		})
	}
}

func TestDecodeStrictRejectsTrailingData(t *testing.T) {
	if _, err := DecodeStrictBytes([]byte(validMessageJSON + `{"another": 1}`)); err == nil {
		t.Fatalf("expected trailing-data error, got nil")
	}
}

func TestEventUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want Event
	}{
		{`"TEST_STARTED"`, EventTestStarted},
		{`"CONTINUE_TEST"`, EventContinueTest},
		{`"TEST_FINISHED"`, EventTestFinished},
		{`"NEW_DATA"`, EventNewData},
		{`"DEVICE_READY"`, EventDeviceReady},
		{`"ALREADY_TESTING"`, EventAlreadyTesting},
	}
	for _, tc := range cases {
		var got Event
		if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("unmarshal %s = %q, want %q", tc.raw, got, tc.want)
		}
	}
	var e Event
	if err := json.Unmarshal([]byte(`"REBOOTING"`), &e); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestDetectionResultUnmarshalAndDisplay(t *testing.T) {
	var r DetectionResult
	if err := json.Unmarshal([]byte(`"POSITIVE"`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r != ResultPositive || r.Display() != "Positive" {
		t.Fatalf("got %q / %q", r, r.Display())
	}
	if err := json.Unmarshal([]byte(`"MAYBE"`), &r); err == nil {
		t.Fatalf("expected error for unknown detection result")
	}
}

func TestSubgroupDisplayName(t *testing.T) {
	ic := SubgroupResult{Name: "IC", Result: ResultNegative}
	if got := ic.DisplayName(); got != "Control" {
		t.Fatalf("DisplayName(IC) = %q, want Control", got)
	}
	other := SubgroupResult{Name: "N gene", Result: ResultPositive}
	if got := other.DisplayName(); got != "N gene" {
		t.Fatalf("DisplayName(N gene) = %q", got)
	}
}

func TestTestStateUnmarshal(t *testing.T) {
	var s TestState
	if err := json.Unmarshal([]byte(`"DONE"`), &s); err != nil || s != TestStateDone {
		t.Fatalf("got %q, err %v", s, err)
	}
	if err := json.Unmarshal([]byte(`"PAUSED"`), &s); err == nil {
		t.Fatalf("expected error for unknown test state")
	}
}
