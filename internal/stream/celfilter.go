package stream

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/weft/internal/logbuffer"
)

// celFilter wraps a compiled CEL program gating message delivery on a
// subscription. When disabled, Eval always returns true. Filtered
// messages still advance the subscriber position; they are skipped, not
// held back.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("session", cel.IntType),
		cel.Variable("stream", cel.IntType),
		cel.Variable("position", cel.IntType),
		cel.Variable("size", cel.IntType),
		// Payload bytes as text for content filters
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether the message passes the filter. Evaluation errors
// fail open: a broken expression must not stall the stream.
func (f celFilter) Eval(payload []byte, h logbuffer.Header, position int64) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"session":  int64(h.SessionID),
		"stream":   int64(h.StreamID),
		"position": position,
		"size":     int64(len(payload)),
		"text":     string(payload),
	})
	if err != nil {
		return true
	}
	b, ok := out.Value().(bool)
	return !ok || b
}
