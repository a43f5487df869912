// Package sqllogger is a slog.Handler that persists records asynchronously
// through an insert function, typically backed by the app_logs table.
package sqllogger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 256

	// TenantKey and PollIDKey are lifted out of the attributes into their
	// own columns so a poll's log lines can be queried directly.
	TenantKey = "tenant"
	PollIDKey = "poll_id"
)

var (
	ErrQueueFull     = errors.New("sqllogger: queue full")
	ErrHandlerClosed = errors.New("sqllogger: handler closed")
)

type InsertLogEntryParams struct {
	TimestampMillis int64
	LevelText       string
	Scope           string
	Message         string
	AttrsJSON       []byte
	SourceFile      string
	SourceLine      int
	SourceFunction  string
	TenantID        *int64
	PollID          string
}

type InsertFunc func(context.Context, InsertLogEntryParams) error

type Option func(*sink)

func WithMinLevel(level slog.Level) Option {
	return func(s *sink) {
		s.minLevel = level
	}
}

func WithQueueSize(size int) Option {
	return func(s *sink) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

func WithInsertFunc(fn InsertFunc) Option {
	return func(s *sink) {
		s.insert = fn
	}
}

// WithErrorFunc is called from the writer goroutine for every failed insert.
func WithErrorFunc(fn func(error)) Option {
	return func(s *sink) {
		s.onError = fn
	}
}

// Stats counts records the sink could not persist.
type Stats struct {
	Dropped uint64
	Failed  uint64
}

// Handler shares one sink between all handlers derived through WithAttrs
// and WithGroup.
type Handler struct {
	sink   *sink
	attrs  []slog.Attr
	groups []string
}

type sink struct {
	insert    InsertFunc
	onError   func(error)
	minLevel  slog.Level
	queueSize int

	mu     sync.RWMutex
	closed bool
	queue  chan entry
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

type entry struct {
	ctx    context.Context
	params InsertLogEntryParams
}

func NewHandler(opts ...Option) (*Handler, error) {
	s := &sink{
		minLevel:  slog.LevelInfo,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.insert == nil {
		return nil, errors.New("sqllogger: insert function is required")
	}

	s.queue = make(chan entry, s.queueSize)
	s.done = make(chan struct{})
	go s.write()

	return &Handler{sink: s}, nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h != nil && h.sink != nil && level >= h.sink.minLevel
}

// Handle queues record without blocking. The insert runs after the caller
// may have returned, so it keeps ctx values but not its cancellation.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if h == nil || h.sink == nil {
		return errors.New("sqllogger: handler not initialized")
	}
	if !h.Enabled(ctx, record.Level) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.sink.enqueue(entry{
		ctx:    context.WithoutCancel(ctx),
		params: h.buildParams(record),
	})
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(slices.Clip(h.attrs), nest(h.groups, attrs)...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clip(h.groups), name)
	return &clone
}

// Stats reports how many records were dropped on a full queue or failed to
// insert since the handler was created.
func (h *Handler) Stats() Stats {
	return Stats{Dropped: h.sink.dropped.Load(), Failed: h.sink.failed.Load()}
}

// Close stops accepting records and waits until the queued ones are written
// or ctx is done.
func (h *Handler) Close(ctx context.Context) error {
	if h == nil || h.sink == nil {
		return nil
	}
	return h.sink.close(ctx)
}

func (s *sink) enqueue(e entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrHandlerClosed
	}
	select {
	case s.queue <- e:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *sink) write() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.insert(e.ctx, e.params); err != nil {
			s.failed.Add(1)
			if s.onError != nil {
				s.onError(err)
			}
		}
	}
}

func (s *sink) close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) buildParams(record slog.Record) InsertLogEntryParams {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	params := InsertLogEntryParams{
		TimestampMillis: ts.UTC().UnixMilli(),
		LevelText:       record.Level.String(),
		Scope:           strings.Join(h.groups, "."),
		Message:         record.Message,
	}
	if frame := record.Source(); frame != nil {
		params.SourceFile = frame.File
		params.SourceLine = frame.Line
		params.SourceFunction = frame.Function
	}

	attrs := slices.Clip(h.attrs)
	var own []slog.Attr
	record.Attrs(func(a slog.Attr) bool {
		own = append(own, a)
		return true
	})
	attrs = append(attrs, nest(h.groups, own)...)

	params.TenantID, params.PollID = correlate(attrs)
	params.AttrsJSON = encodeAttrs(attrs)
	return params
}

// nest wraps attrs in the open groups so they encode at the right depth.
func nest(groups []string, attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}
	for i := len(groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: groups[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}

// correlate finds the tenant and poll id among attrs, descending into
// groups. The last occurrence wins.
func correlate(attrs []slog.Attr) (*int64, string) {
	var (
		tenant *int64
		pollID string
	)
	var walk func([]slog.Attr)
	walk = func(list []slog.Attr) {
		for _, attr := range list {
			val := attr.Value.Resolve()
			switch {
			case val.Kind() == slog.KindGroup:
				walk(val.Group())
			case attr.Key == TenantKey && val.Kind() == slog.KindInt64:
				id := val.Int64()
				tenant = &id
			case attr.Key == PollIDKey && val.Kind() == slog.KindString:
				pollID = val.String()
			}
		}
	}
	walk(attrs)
	return tenant, pollID
}

func encodeAttrs(attrs []slog.Attr) []byte {
	root := map[string]any{}
	merge(root, attrs)
	if len(root) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(root)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// merge writes attrs into dst. Groups with the same key share one object;
// an empty group key inlines its members.
func merge(dst map[string]any, attrs []slog.Attr) {
	for _, attr := range attrs {
		val := attr.Value.Resolve()
		if val.Kind() != slog.KindGroup {
			if attr.Key != "" {
				dst[attr.Key] = jsonValue(val)
			}
			continue
		}
		if attr.Key == "" {
			merge(dst, val.Group())
			continue
		}
		child, ok := dst[attr.Key].(map[string]any)
		if !ok {
			child = map[string]any{}
			dst[attr.Key] = child
		}
		merge(child, val.Group())
	}
}

func jsonValue(val slog.Value) any {
	switch val.Kind() {
	case slog.KindString:
		return val.String()
	case slog.KindInt64:
		return val.Int64()
	case slog.KindUint64:
		return val.Uint64()
	case slog.KindFloat64:
		return val.Float64()
	case slog.KindBool:
		return val.Bool()
	case slog.KindDuration:
		return val.Duration().String()
	case slog.KindTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	}
	if err, ok := val.Any().(error); ok {
		return err.Error()
	}
	return val.Any()
}
