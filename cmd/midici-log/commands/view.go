// Package commands implements the midici-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/midici-protocol/midici-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	MUID      *uint32
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:      f.Layer,
		Direction:  f.Direction,
		Category:   f.Category,
		RemoteMUID: f.MUID,
	}
}

const timestampFormat = "2006-01-02T15:04:05.000000Z"

// eventLabel names the payload carried by the event.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		if len(event.Frame.Words) > 0 {
			return "Packet"
		}
		return "SysEx"
	case event.Message != nil:
		return event.Message.Name
	case event.Stream != nil:
		return event.Stream.Name
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session] ROLE DIRECTION LAYER Label
	ts := event.Timestamp.UTC().Format(timestampFormat)
	fmt.Fprintf(w, "%s [%s] %s %-3s %s %s",
		ts, shortenSessionID(event.SessionID), event.LocalRole.String(),
		event.Direction.String(), event.Layer.String(), eventLabel(event))
	if event.RemoteMUID != 0 {
		fmt.Fprintf(w, " peer=0x%07X", event.RemoteMUID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.Stream != nil:
		formatStreamDetails(w, event.Stream)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	if len(frame.Words) > 0 {
		fmt.Fprintf(w, "  Size: %d words\n", frame.Size)
		words := make([]string, len(frame.Words))
		for i, word := range frame.Words {
			words[i] = fmt.Sprintf("%08X", word)
		}
		fmt.Fprintf(w, "  Words: %s\n", strings.Join(words, " "))
		return
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  SubID: 0x%02X  Version: %d\n", msg.SubID, msg.Version)
	fmt.Fprintf(w, "  Source: 0x%07X  Destination: 0x%07X\n", msg.Source, msg.Destination)
	if msg.RequestID != nil {
		fmt.Fprintf(w, "  RequestID: %d", *msg.RequestID)
		if msg.NumChunks > 0 {
			fmt.Fprintf(w, "  Chunk: %d/%d", msg.ChunkIndex, msg.NumChunks)
		}
		fmt.Fprintln(w)
	}
	if msg.Resource != "" {
		fmt.Fprintf(w, "  Resource: %s\n", msg.Resource)
	}
	if msg.Status != nil {
		fmt.Fprintf(w, "  Status: %d\n", *msg.Status)
	}
}

func formatStreamDetails(w io.Writer, s *log.StreamEvent) {
	fmt.Fprintf(w, "  Status: 0x%03X  Form: %d\n", s.Status, s.Form)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "sysex":
		return log.LayerSysEx, nil
	case "ci":
		return log.LayerCI, nil
	case "ump":
		return log.LayerUMP, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be sysex, ci, or ump)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// ParseRoleFlag parses a local role string (case-insensitive).
func ParseRoleFlag(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "initiator":
		return log.RoleInitiator, nil
	case "responder":
		return log.RoleResponder, nil
	case "endpoint":
		return log.RoleEndpoint, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be initiator, responder, or endpoint)", s)
	}
}

// ParseMUIDFlag parses a 28-bit MUID in decimal or 0x-prefixed hex.
func ParseMUIDFlag(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid MUID: %s", s)
	}
	if v > 0x0FFFFFFF {
		return 0, fmt.Errorf("invalid MUID: %s (exceeds 28 bits)", s)
	}
	return uint32(v), nil
}

// forEachEvent calls fn for every event in path matching filter.
func forEachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	return forEachEvent(path, filter.logFilter(), func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
