package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/midici-protocol/midici-go/pkg/log"
)

// RunExport exports the log file to the specified format. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return Export(path, format, w)
}

// Export writes the events in path to w as jsonl or csv.
func Export(path, format string, w io.Writer) error {
	switch format {
	case "jsonl":
		return exportJSONL(path, w)
	case "csv":
		return exportCSV(path, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(path string, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return forEachEvent(path, log.Filter{}, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{
	"timestamp", "session_id", "role", "direction", "layer", "category",
	"local_muid", "remote_muid", "type", "sub_id", "request_id", "resource",
}

func exportCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := forEachEvent(path, log.Filter{}, func(event log.Event) error {
		var subID, requestID, resource string
		if msg := event.Message; msg != nil {
			subID = fmt.Sprintf("0x%02X", msg.SubID)
			if msg.RequestID != nil {
				requestID = strconv.Itoa(int(*msg.RequestID))
			}
			resource = msg.Resource
		}

		row := []string{
			event.Timestamp.UTC().Format(timestampFormat),
			event.SessionID,
			event.LocalRole.String(),
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			formatMUID(event.LocalMUID),
			formatMUID(event.RemoteMUID),
			eventLabel(event),
			subID,
			requestID,
			resource,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func formatMUID(m uint32) string {
	if m == 0 {
		return ""
	}
	return fmt.Sprintf("0x%07X", m)
}
