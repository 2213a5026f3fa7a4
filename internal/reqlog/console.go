package reqlog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const entryField = "reqlog_entry"

var levelColors = map[Level]int{
	LevelInfo:  32,
	LevelWarn:  33,
	LevelError: 31,
	LevelDebug: 34,
}

// ConsoleFormatter prints request log entries as colored single lines. Entries
// that did not come from a request Logger fall back to the text formatter.
type ConsoleFormatter struct {
	TruncateAt int
	NoColor    bool
	fallback   logrus.TextFormatter
}

func (f *ConsoleFormatter) Format(le *logrus.Entry) ([]byte, error) {
	e, ok := le.Data[entryField].(Entry)
	if !ok {
		return f.fallback.Format(le)
	}
	var b bytes.Buffer
	head := fmt.Sprintf("[%s] %s %s", e.ReqID, e.TS, e.Msg)
	if f.NoColor {
		b.WriteString(head)
	} else {
		fmt.Fprintf(&b, "\x1b[%dm%s\x1b[0m", levelColors[e.Level], head)
	}
	switch {
	case e.ToolCall != nil:
		fmt.Fprintf(&b, " → %s %s", e.ToolCall.Name, Truncate(e.ToolCall.Input, f.TruncateAt))
	case e.ToolResult != nil:
		mark := "✓"
		if !e.ToolResult.Success {
			mark = "✗"
		}
		fmt.Fprintf(&b, " %s %s (%dms) %s", mark, e.ToolResult.Name, e.ToolResult.Duration, Truncate(e.ToolResult.Output, f.TruncateAt))
	case e.Data != nil:
		b.WriteByte(' ')
		b.WriteString(Truncate(e.Data, f.TruncateAt))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// NewConsole returns a logrus logger that mirrors request log entries to w.
// A nil writer means stdout.
func NewConsole(w io.Writer, level string, truncateAt int) *logrus.Logger {
	if w == nil {
		w = os.Stdout
	}
	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetFormatter(&ConsoleFormatter{TruncateAt: truncateAt, NoColor: w != os.Stdout})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.DebugLevel
	}
	lg.SetLevel(lvl)
	return lg
}

func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
