package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorTime   = "\x1b[38;5;109m" // muted blue
	colorName   = "\x1b[38;5;108m" // muted aqua
	colorWarn   = "\x1b[38;5;214m"
	colorError  = "\x1b[38;5;167m"
	colorWarnBg = "\x1b[48;5;58m"
	colorErrBg  = "\x1b[48;5;88m"
)

// consoleEncoder is a calm, single-line console format:
//
//	15:04:05.000  session  dispatching request  session_id=01H...
//
// Grounded on the teacher's minimalEncoder (logger/minimal_encoder.go),
// stripped to one theme and no name abbreviation — this server has a far
// smaller, flatter set of component names.
type consoleEncoder struct {
	zapcore.Encoder
}

func newConsoleEncoder() *consoleEncoder {
	return &consoleEncoder{Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	return &consoleEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := buffer.NewPool().Get()

	buf.AppendString(colorTime)
	buf.AppendString(ent.Time.Format("15:04:05.000"))
	buf.AppendString(colorReset)

	if lvl := levelTag(ent.Level); lvl != "" {
		buf.AppendString("  ")
		buf.AppendString(lvl)
	}

	if ent.LoggerName != "" {
		buf.AppendString("  ")
		buf.AppendString(colorName)
		buf.AppendString(ent.LoggerName)
		buf.AppendString(colorReset)
	}

	buf.AppendString("  ")
	buf.AppendString(ent.Message)

	for _, f := range fields {
		buf.AppendString(" ")
		buf.AppendString(f.Key)
		buf.AppendString("=")
		buf.AppendString(fieldValue(f))
	}

	buf.AppendString("\n")
	return buf, nil
}

func levelTag(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorWarnBg + colorWarn + "WARN" + colorReset
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorErrBg + colorError + level.CapitalString() + colorReset
	default:
		return ""
	}
}

func fieldValue(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", f.Integer)
	case zapcore.BoolType:
		return fmt.Sprintf("%v", f.Integer != 0)
	case zapcore.DurationType:
		return fmt.Sprintf("%v", f.Integer)
	default:
		if f.Interface != nil {
			return fmt.Sprintf("%v", f.Interface)
		}
		return strings.TrimSpace(f.String)
	}
}
