package reqlog

import (
	"fmt"
	"strings"
)

// Level is the severity of a request log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ToolCallRecord is attached to entries written by Logger.ToolCall.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Input     any    `json:"input"`
	StartTime int64  `json:"startTime"`
}

// ToolResultRecord is attached to entries written by Logger.ToolResult and Logger.ToolError.
type ToolResultRecord struct {
	Name     string `json:"name"`
	Output   any    `json:"output"`
	Duration int64  `json:"duration"`
	Success  bool   `json:"success"`
}

// StepMarker names a phase boundary recorded by Logger.Step.
type StepMarker struct {
	Name  string `json:"name"`
	Phase string `json:"phase"`
}

// Entry is one immutable line of a request log.
type Entry struct {
	TS         string            `json:"ts"`
	Level      Level             `json:"level"`
	ReqID      string            `json:"reqId"`
	Msg        string            `json:"msg"`
	Data       any               `json:"data,omitempty"`
	ToolCall   *ToolCallRecord   `json:"toolCall,omitempty"`
	ToolResult *ToolResultRecord `json:"toolResult,omitempty"`
	Duration   int64             `json:"duration,omitempty"`
	Step       *StepMarker       `json:"step,omitempty"`
}

// Plain renders the entry in the flattened one-line format.
func (e Entry) Plain(truncateAt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s", e.TS, strings.ToUpper(string(e.Level)), e.ReqID, e.Msg)
	if e.Data != nil {
		b.WriteByte(' ')
		b.WriteString(Truncate(e.Data, truncateAt))
	}
	if e.ToolCall != nil {
		fmt.Fprintf(&b, " [TOOL_CALL: %s]", e.ToolCall.Name)
	}
	if e.ToolResult != nil {
		fmt.Fprintf(&b, " [TOOL_RESULT: %s (%dms)]", e.ToolResult.Name, e.ToolResult.Duration)
	}
	return b.String()
}

// Stats summarizes a request log.
type Stats struct {
	Total       int           `json:"total"`
	ByLevel     map[Level]int `json:"byLevel"`
	ToolCalls   int           `json:"toolCalls"`
	ToolResults int           `json:"toolResults"`
}

// ComputeStats counts entries per level and tool entries.
func ComputeStats(entries []Entry) Stats {
	s := Stats{Total: len(entries), ByLevel: map[Level]int{}}
	for _, e := range entries {
		s.ByLevel[e.Level]++
		if e.ToolCall != nil {
			s.ToolCalls++
		}
		if e.ToolResult != nil {
			s.ToolResults++
		}
	}
	return s
}
