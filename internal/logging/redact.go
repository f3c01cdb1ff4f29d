package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redactedPlaceholder = "[REDACTED]"

// redactor rewrites sensitive field values before they hit the encoder.
type redactor struct {
	fieldNames map[string]struct{}
	patterns   []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	names := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		names[strings.ToLower(f)] = struct{}{}
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return &redactor{fieldNames: names, patterns: patterns}, nil
}

// redactField returns the field with its value masked when the key names a
// secret, or with pattern matches masked inside string values.
func (r *redactor) redactField(f zapcore.Field) zapcore.Field {
	if _, sensitive := r.fieldNames[strings.ToLower(f.Key)]; sensitive {
		f.Type = zapcore.StringType
		f.String = redactedPlaceholder
		f.Interface = nil
		f.Integer = 0
		return f
	}
	if f.Type == zapcore.StringType {
		f.String = r.redactString(f.String)
	}
	return f
}

func (r *redactor) redactString(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// redactingCore applies the redactor to every written entry.
type redactingCore struct {
	zapcore.Core
	redactor *redactor
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.redactor.redactField(f)
	}
	return &redactingCore{Core: c.Core.With(out), redactor: c.redactor}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.redactor.redactField(f)
	}
	ent.Message = c.redactor.redactString(ent.Message)
	return c.Core.Write(ent, out)
}
