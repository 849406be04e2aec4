// replaylog replays a JSONL webhook capture (as written by the dump
// endpoint) through the protocol state machine, reports what happened,
// and optionally writes the final chart to a PNG file.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/results-wang/pluslife-notifier/src/graph"
	"github.com/results-wang/pluslife-notifier/src/messages"
	"github.com/results-wang/pluslife-notifier/src/state"
)

func main() {
	var file string
	var out string
	flag.StringVar(&file, "file", "webhook_dump.jsonl", "Path to the JSONL capture file")
	flag.StringVar(&out, "out", "", "Optional path to write the final chart PNG")
	flag.Parse()

	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	current := state.Started()
	eventCounts := map[messages.Event]int{}
	var lastData *messages.TestData
	lines, failures := 0, 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines++
		var wrapper messages.LogWrapper
		if err := json.Unmarshal(line, &wrapper); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: parse error: %v\n", lines, err)
			failures++
			continue
		}
		eventCounts[wrapper.Message.Event]++
		data := wrapper.Message.Test.Data
		lastData = &data
		next, uerr := state.Update(current, &wrapper.Message)
		if uerr != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lines, uerr)
			failures++
			if uerr.Restore == nil {
				break
			}
			current = uerr.Restore
			continue
		}
		current = next
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Lines: %d (failed: %d)\n", lines, failures)
	for _, ev := range []messages.Event{
		messages.EventTestStarted, messages.EventContinueTest, messages.EventTestFinished,
		messages.EventNewData, messages.EventDeviceReady, messages.EventAlreadyTesting,
	} {
		if n := eventCounts[ev]; n > 0 {
			fmt.Printf("%s: %d\n", ev, n)
		}
	}
	if completed, ok := current.(*state.CompletedTest); ok {
		fmt.Printf("Overall result: %s\n", completed.Overall.Display())
		for _, sub := range completed.SubgroupResults {
			fmt.Printf("  %s: %s\n", sub.Name, sub.Result.Display())
		}
	}

	if out != "" {
		if err := writeChart(current, lastData, out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote chart to %s\n", out)
	}
}

func writeChart(current state.State, lastData *messages.TestData, out string) error {
	if completed, ok := current.(*state.CompletedTest); ok {
		return os.WriteFile(out, completed.GraphPNG, 0o644)
	}
	if lastData == nil {
		return fmt.Errorf("no data to chart")
	}
	g, err := graph.FromTestData(lastData)
	if err != nil {
		return err
	}
	return g.NormaliseValuesToZero().RenderPNGToFile(out)
}
