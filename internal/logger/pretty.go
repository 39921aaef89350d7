package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// scopeKeys identify where a record comes from. They are printed in this
// order in front of the message instead of with the other attributes.
var scopeKeys = []string{"env", "device", "task", "kind", "place"}

// PrettyHandler is a slog.Handler for terminals:
//
//	15:04:05.000 WARN  [device=0 task=12 kind=KERNEL] task pending elapsed=10.2s
//
// Colors are dropped when NO_COLOR is set.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	mu    *sync.Mutex
	color bool
	group string
	// scope holds values for scopeKeys, attrs everything else with the
	// group already applied.
	scope map[string]slog.Value
	attrs []slog.Attr
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return &PrettyHandler{
		opts:  *opts,
		w:     w,
		mu:    &sync.Mutex{},
		color: !noColor,
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	scope, copied := h.scope, false
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if h.group == "" && isScopeKey(a.Key) {
			if !copied {
				scope, copied = cloneScope(h.scope), true
			}
			scope[a.Key] = a.Value
			return true
		}
		attrs = append(attrs, qualify(a, h.group))
		return true
	})

	buf := make([]byte, 0, 256)
	buf = h.paint(buf, colorGray, func(b []byte) []byte {
		return r.Time.AppendFormat(b, "15:04:05.000")
	})
	buf = append(buf, ' ')
	buf = h.paint(buf, levelColor(r.Level)+colorBold, func(b []byte) []byte {
		return fmt.Appendf(b, "%-5s", r.Level.String())
	})
	buf = append(buf, ' ')

	if len(scope) > 0 {
		buf = h.paint(buf, colorGray, func(b []byte) []byte {
			b = append(b, '[')
			first := true
			for _, k := range scopeKeys {
				v, ok := scope[k]
				if !ok {
					continue
				}
				if !first {
					b = append(b, ' ')
				}
				first = false
				b = append(b, k...)
				b = append(b, '=')
				b = appendValue(b, scopeValue(k, v))
			}
			return append(b, ']')
		})
		buf = append(buf, ' ')
	}

	buf = append(buf, r.Message...)
	if len(attrs) > 0 {
		buf = append(buf, ' ')
		buf = h.paint(buf, colorCyan, func(b []byte) []byte {
			for i, a := range attrs {
				if i > 0 {
					b = append(b, ' ')
				}
				b = appendAttr(b, a)
			}
			return b
		})
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		if h.group == "" && isScopeKey(a.Key) {
			h2.scope[a.Key] = a.Value
			continue
		}
		h2.attrs = append(h2.attrs, qualify(a, h.group))
	}
	return h2
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	if h.group != "" {
		name = h.group + "." + name
	}
	h2.group = name
	return h2
}

func (h *PrettyHandler) clone() *PrettyHandler {
	h2 := *h
	h2.scope = cloneScope(h.scope)
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	return &h2
}

func (h *PrettyHandler) paint(buf []byte, color string, fn func([]byte) []byte) []byte {
	if !h.color {
		return fn(buf)
	}
	buf = append(buf, color...)
	buf = fn(buf)
	return append(buf, colorReset...)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

func isScopeKey(k string) bool {
	for _, s := range scopeKeys {
		if s == k {
			return true
		}
	}
	return false
}

func cloneScope(m map[string]slog.Value) map[string]slog.Value {
	out := make(map[string]slog.Value, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// scopeValue shortens environment IDs to their first block.
func scopeValue(k string, v slog.Value) slog.Value {
	if k == "env" && v.Kind() == slog.KindString && len(v.String()) > 8 {
		return slog.StringValue(v.String()[:8])
	}
	return v
}

func qualify(a slog.Attr, group string) slog.Attr {
	if group != "" {
		a.Key = group + "." + a.Key
	}
	return a
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if s := v.String(); needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, v.String()...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindGroup:
		buf = append(buf, '{')
		for i, a := range v.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, a)
		}
		return append(buf, '}')
	default:
		if err, ok := v.Any().(error); ok {
			return strconv.AppendQuote(buf, err.Error())
		}
		return append(buf, fmt.Sprint(v.Any())...)
	}
}

func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}
