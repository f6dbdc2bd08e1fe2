package process

import (
	"bytes"

	"github.com/rs/zerolog"
)

// lineLogger turns a child's output stream into one log event per line.
type lineLogger struct {
	logger zerolog.Logger
	stream string
	buf    bytes.Buffer
}

func newLineLogger(logger zerolog.Logger, stream string) *lineLogger {
	return &lineLogger{logger: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := l.buf.Next(i + 1)
		l.emit(line[:i])
	}
	return len(p), nil
}

// Flush emits whatever is left without a trailing newline.
func (l *lineLogger) Flush() {
	if l.buf.Len() > 0 {
		l.emit(l.buf.Bytes())
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	l.logger.Info().Str("stream", l.stream).Msg(string(line))
}
