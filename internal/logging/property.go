package logging

import (
	"context"
	"sync/atomic"
)

// Property names attached to every request-scoped log statement.
const (
	PropUserID        = "UserId"
	PropUserName      = "UserName"
	PropClientIP      = "ClientIP"
	PropRequestPath   = "RequestPath"
	PropRequestMethod = "RequestMethod"
	PropCorrelationID = "CorrelationId"
)

// Property is a key/value pair visible to every log statement made with a
// context it was pushed onto, until its scope is closed.
type Property struct {
	Key   string
	Value any
}

// P is shorthand for building a Property.
func P(key string, value any) Property {
	return Property{Key: key, Value: value}
}

// frame is one entry of the property stack. Frames are never mutated
// after being pushed except for the closed flag.
type frame struct {
	prop   Property
	parent *frame
	closed atomic.Bool
}

type stackCtxKey struct{}

// Scope is the set of properties pushed by one call to Enrich.
type Scope struct {
	frames []*frame
	closed atomic.Bool
}

// Enrich pushes props onto the property stack carried by ctx and returns
// the derived context plus the scope that removes them again. Callers must
// close the scope, normally with defer, so the properties disappear on
// every exit path.
func Enrich(ctx context.Context, props ...Property) (context.Context, *Scope) {
	top, _ := ctx.Value(stackCtxKey{}).(*frame)
	scope := &Scope{frames: make([]*frame, 0, len(props))}

	for _, p := range props {
		f := &frame{prop: p, parent: top}
		scope.frames = append(scope.frames, f)
		top = f
	}
	if len(scope.frames) == 0 {
		return ctx, scope
	}
	return context.WithValue(ctx, stackCtxKey{}, top), scope
}

// Close pops the scope's properties in reverse push order. Only the first
// call has an effect.
func (s *Scope) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		s.frames[i].closed.Store(true)
	}
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	return s != nil && s.closed.Load()
}

// PropertiesFromContext returns the live properties of ctx, oldest first.
// When a key was pushed more than once the innermost live value wins.
func PropertiesFromContext(ctx context.Context) []Property {
	top, _ := ctx.Value(stackCtxKey{}).(*frame)
	if top == nil {
		return nil
	}

	var live []Property
	seen := make(map[string]struct{})
	for f := top; f != nil; f = f.parent {
		if f.closed.Load() {
			continue
		}
		if _, dup := seen[f.prop.Key]; dup {
			continue
		}
		seen[f.prop.Key] = struct{}{}
		live = append(live, f.prop)
	}

	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}
	return live
}

// PropertyValue returns the live value for key, if any.
func PropertyValue(ctx context.Context, key string) (any, bool) {
	top, _ := ctx.Value(stackCtxKey{}).(*frame)
	for f := top; f != nil; f = f.parent {
		if !f.closed.Load() && f.prop.Key == key {
			return f.prop.Value, true
		}
	}
	return nil, false
}
