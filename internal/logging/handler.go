package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// handlerState carries what WithAttrs and WithGroup accumulate, shared by
// the journal and buffer handlers.
type handlerState struct {
	level  slog.Leveler
	attrs  []groupedAttr
	groups []string
}

// groupedAttr remembers the groups open when an attribute was added.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

func (s handlerState) enabled(level slog.Level) bool {
	return level >= s.level.Level()
}

func (s handlerState) withAttrs(attrs []slog.Attr) handlerState {
	next := s
	next.attrs = slices.Clip(s.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, groupedAttr{groups: s.groups, attr: a})
	}
	return next
}

func (s handlerState) withGroup(name string) handlerState {
	if name == "" {
		return s
	}
	next := s
	next.groups = append(slices.Clip(s.groups), name)
	return next
}

// walk visits the handler attributes and then the record attributes, each
// with the groups it belongs to. The module attribute is reported
// separately and never visited.
func (s handlerState) walk(r slog.Record, visit func(groups []string, a slog.Attr)) (module string) {
	module = "app"
	for _, ga := range s.attrs {
		if ga.attr.Key == "module" && len(ga.groups) == 0 {
			module = ga.attr.Value.String()
			continue
		}
		visit(ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "module" && len(s.groups) == 0 {
			module = a.Value.String()
			return true
		}
		visit(s.groups, a)
		return true
	})
	return module
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
