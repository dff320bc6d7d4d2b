// Package recorder turns host callbacks about a live document into an
// ordered stream of session events. Every entrypoint is safe to call from
// host code at any time: bad input and internal failures are counted as
// capture errors and never escape to the caller.
package recorder

import (
	"fmt"
	"log/slog"
	"maps"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/xraph/rewind/dom"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

const maskAttr = "data-rewind-mask"

type phase int

const (
	phaseIdle phase = iota
	phaseRecording
	phaseStopped
)

// Stats counts recorder activity since construction.
type Stats struct {
	Events        int64
	CaptureErrors int64
	// Discarded counts callbacks ignored for lack of consent, before Start
	// or after Stop, including pointer samples dropped on revocation.
	Discarded    int64
	MaskedInputs int64
}

type startRequest struct {
	info StartInfo
	root Node
}

// Recorder captures one session.
type Recorder struct {
	cfg    Config
	sink   Sink
	clock  Clock
	logger *slog.Logger

	mu        sync.Mutex
	phase     phase
	consent   bool
	stale     bool
	pending   *startRequest
	sessionID id.ID
	epoch     time.Time
	last      int64
	url       string
	root      Node
	ids       map[Node]int64
	nextID    int64
	values    map[Node]string

	moves     []event.Position
	moveStart int64
	lastMove  int64

	events        atomic.Int64
	captureErrors atomic.Int64
	discarded     atomic.Int64
	masked        atomic.Int64
	lastErr       atomic.Pointer[CaptureError]
}

// New returns a recorder that delivers events to sink.
func New(sink Sink, cfg Config, opts ...Option) *Recorder {
	cfg = cfg.withDefaults()
	r := &Recorder{
		cfg:       cfg,
		sink:      sink,
		clock:     systemClock{},
		consent:   !cfg.ConsentRequired,
		sessionID: cfg.SessionID,
		ids:       make(map[Node]int64),
		values:    make(map[Node]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// SessionID returns the id stamped on events. It is nil until Start runs
// when none was configured.
func (r *Recorder) SessionID() id.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Events:        r.events.Load(),
		CaptureErrors: r.captureErrors.Load(),
		Discarded:     r.discarded.Load(),
		MaskedInputs:  r.masked.Load(),
	}
}

// LastError returns the most recent capture error, if any.
func (r *Recorder) LastError() *CaptureError {
	return r.lastErr.Load()
}

// Start begins the session: it emits SessionStart and a full snapshot of
// root. Without consent the call is remembered and replayed by
// GrantConsent.
func (r *Recorder) Start(info StartInfo, root Node) {
	defer r.recoverOp("start")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != phaseIdle {
		return
	}
	if !r.consent {
		r.pending = &startRequest{info: info, root: root}
		return
	}
	r.start(info, root)
}

func (r *Recorder) start(info StartInfo, root Node) {
	now := r.clock.Now()
	if r.sessionID.IsNil() {
		r.sessionID = id.NewSessionID()
	}
	r.epoch = now
	r.last = 0
	r.phase = phaseRecording
	r.url = info.URL

	ss := info.SessionStart
	if ss.StartedAt == 0 {
		ss.StartedAt = now.UnixMilli()
	}
	r.emitAt(0, ss)
	r.snapshot("start", root)
}

// Stop flushes pending pointer samples and ends capture.
func (r *Recorder) Stop() {
	defer r.recoverOp("stop")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == phaseRecording && r.consent {
		r.flushMoves()
	}
	r.phase = phaseStopped
	r.pending = nil
}

// GrantConsent enables capture. A deferred Start runs now; a session that
// lost consent mid-recording resumes with a fresh snapshot.
func (r *Recorder) GrantConsent() {
	defer r.recoverOp("consent")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consent {
		return
	}
	r.consent = true
	switch {
	case r.pending != nil && r.phase == phaseIdle:
		p := r.pending
		r.pending = nil
		r.start(p.info, p.root)
	case r.phase == phaseRecording && r.stale:
		r.stale = false
		r.snapshot("consent", r.root)
	}
}

// RevokeConsent stops capture until consent is granted again and drops
// samples not yet emitted.
func (r *Recorder) RevokeConsent() {
	defer r.recoverOp("consent")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.consent {
		return
	}
	r.consent = false
	r.discarded.Add(int64(len(r.moves)))
	r.moves = nil
	if r.phase == phaseRecording {
		r.stale = true
	}
}

// Navigate records a page load and snapshots the new document.
func (r *Recorder) Navigate(url, title string, root Node) {
	defer r.recoverOp("navigate")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	r.flushMoves()
	from := r.url
	r.url = url
	r.values = make(map[Node]string)
	r.emit(event.PageNavigation{From: from, To: url, Title: title})
	r.snapshot("navigate", root)
}

// Observe records document mutations. Ops are emitted in record order,
// split across DomMutation events of at most MutationChunkSize ops.
func (r *Recorder) Observe(records ...MutationRecord) {
	defer r.recoverOp("observe")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	var ops []dom.Mutation
	for _, rec := range records {
		ops = append(ops, r.mutationOps(rec)...)
	}
	for len(ops) > 0 {
		n := min(len(ops), r.cfg.MutationChunkSize)
		r.emit(event.DomMutation{Ops: ops[:n:n]})
		ops = ops[n:]
	}
}

func (r *Recorder) mutationOps(rec MutationRecord) []dom.Mutation {
	target, ok := r.ids[rec.Target]
	if !ok {
		r.fail("observe", fmt.Errorf("%w: mutation target", ErrUnknownNode))
		return nil
	}

	switch rec.Kind {
	case ChildList:
		var ops []dom.Mutation
		for _, n := range rec.Removed {
			nid, ok := r.ids[n]
			if !ok {
				r.fail("observe", fmt.Errorf("%w: removed node", ErrUnknownNode))
				continue
			}
			ops = append(ops, dom.Mutation{Op: dom.OpRemove, ID: nid})
			r.forget(n)
		}
		var before int64
		if rec.Before != nil {
			before = r.ids[rec.Before]
		}
		for _, n := range rec.Added {
			if old, moved := r.ids[n]; moved {
				ops = append(ops, dom.Mutation{Op: dom.OpRemove, ID: old})
				r.forget(n)
			}
			ops = append(ops, dom.Mutation{
				Op:       dom.OpAdd,
				ParentID: target,
				BeforeID: before,
				Node:     r.serialize(n),
			})
		}
		return ops

	case Attributes:
		if rec.Attribute == "" {
			r.fail("observe", fmt.Errorf("attribute record without name"))
			return nil
		}
		if rec.Attribute == "value" && r.shouldMask(rec.Target) {
			return nil
		}
		v, present := rec.Target.Attrs()[rec.Attribute]
		return []dom.Mutation{{Op: dom.OpAttr, ID: target, Name: rec.Attribute, Value: v, Removed: !present}}

	case CharacterData:
		return []dom.Mutation{{Op: dom.OpText, ID: target, Value: r.nodeText(rec.Target)}}

	default:
		r.fail("observe", fmt.Errorf("unknown mutation kind %d", rec.Kind))
		return nil
	}
}

// MouseMove records a pointer position. Samples closer than
// MouseSampleInterval to the previous one are dropped; retained samples
// coalesce into one MouseMove per MouseWindow.
func (r *Recorder) MouseMove(x, y float64) {
	defer r.recoverOp("mousemove")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	ts := r.now()
	if len(r.moves) > 0 && ts-r.moveStart >= r.cfg.MouseWindow.Milliseconds() {
		r.flushMoves()
	}
	if len(r.moves) > 0 && ts-r.lastMove < r.cfg.MouseSampleInterval.Milliseconds() {
		return
	}
	if len(r.moves) == 0 {
		r.moveStart = ts
	}
	r.moves = append(r.moves, event.Position{X: x, Y: y, Offset: ts - r.moveStart})
	r.lastMove = ts
}

// Flush emits pending pointer samples.
func (r *Recorder) Flush() {
	defer r.recoverOp("flush")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing() {
		r.flushMoves()
	}
}

// Click records a click on target at viewport coordinates x, y.
func (r *Recorder) Click(target Node, x, y float64, rect event.Rect) {
	defer r.recoverOp("click")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if target == nil {
		r.fail("click", fmt.Errorf("%w: nil target", ErrUnknownNode))
		return
	}
	nid := r.ids[target]
	sel := Selector(target)
	if nid == 0 && sel == "" {
		r.fail("click", fmt.Errorf("%w: click target", ErrUnknownNode))
		return
	}
	text := ""
	if !r.shouldMask(target) {
		text = r.truncate(collapse(textContent(target)))
	}
	r.emit(event.MouseClick{NodeID: nid, Selector: sel, Text: text, X: x, Y: y, Rect: rect})
}

// Scroll records a scroll position of target, or of the document when
// target is nil or the document root.
func (r *Recorder) Scroll(target Node, x, y, scrollHeight, viewportHeight float64) {
	defer r.recoverOp("scroll")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	var nid int64
	if target != nil && target != r.root && target.Kind() != dom.KindDocument {
		var ok bool
		if nid, ok = r.ids[target]; !ok {
			r.fail("scroll", fmt.Errorf("%w: scroll target", ErrUnknownNode))
			return
		}
	}
	r.emit(event.Scroll{NodeID: nid, X: x, Y: y, Percent: scrollPercent(y, scrollHeight, viewportHeight)})
}

// scrollPercent is the share of the content that has been in view: the
// bottom edge of the viewport relative to the scroll height.
func scrollPercent(y, scrollHeight, viewportHeight float64) float64 {
	if scrollHeight <= 0 || scrollHeight <= viewportHeight {
		return 100
	}
	pct := (y + viewportHeight) / scrollHeight * 100
	return max(0, min(100, pct))
}

// Input records a field value. Masked fields report Masked and never
// carry the value.
func (r *Recorder) Input(target Node, value string) {
	defer r.recoverOp("input")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if target == nil {
		r.fail("input", fmt.Errorf("%w: nil target", ErrUnknownNode))
		return
	}
	nid := r.ids[target]
	sel := Selector(target)
	if nid == 0 && sel == "" {
		r.fail("input", fmt.Errorf("%w: input target", ErrUnknownNode))
		return
	}

	prev, seen := r.values[target]
	if !seen {
		prev = target.Attrs()["value"]
	}
	r.values[target] = value

	in := event.Input{NodeID: nid, Selector: sel, Changed: value != prev}
	if r.shouldMask(target) {
		in.Masked = true
		r.masked.Add(1)
	} else {
		in.Value = value
	}
	r.emit(in)
}

// Resize records a viewport size change.
func (r *Recorder) Resize(width, height int) {
	defer r.recoverOp("resize")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if width <= 0 || height <= 0 {
		r.fail("resize", fmt.Errorf("invalid viewport %dx%d", width, height))
		return
	}
	r.emit(event.Resize{Width: width, Height: height})
}

// Console records a console call. Unknown levels are recorded as log.
func (r *Recorder) Console(level string, args ...any) {
	defer r.recoverOp("console")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	switch level {
	case event.LevelDebug, event.LevelLog, event.LevelInfo, event.LevelWarn, event.LevelError:
	default:
		level = event.LevelLog
	}
	c := event.Console{Level: level, Message: r.truncate(fmt.Sprint(args...))}
	for _, a := range args {
		c.Args = append(c.Args, r.truncate(fmt.Sprintf("%v", a)))
	}
	r.emit(c)
}

// Network records a finished request.
func (r *Recorder) Network(info event.Network) {
	defer r.recoverOp("network")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if info.URL == "" {
		r.fail("network", fmt.Errorf("request without url"))
		return
	}
	if info.Method == "" {
		info.Method = "GET"
	}
	info.Method = strings.ToUpper(info.Method)
	r.emit(info)
}

// ReportError records an uncaught error.
func (r *Recorder) ReportError(info event.ErrorReport) {
	defer r.recoverOp("error")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if info.Message == "" {
		r.fail("error", fmt.Errorf("error report without message"))
		return
	}
	if info.ErrorKind == "" {
		info.ErrorKind = event.ErrorKindException
	}
	r.emit(info)
}

// RecoverPanic records a recovered host panic value as an error report.
// Hosts call it from their own deferred recover.
func (r *Recorder) RecoverPanic(v any) {
	if v == nil {
		return
	}
	msg := fmt.Sprint(v)
	if err, ok := v.(error); ok {
		msg = err.Error()
	}
	r.ReportError(event.ErrorReport{
		ErrorKind: event.ErrorKindException,
		Message:   msg,
		Stack:     string(debug.Stack()),
	})
}

// Track records a host-defined event.
func (r *Recorder) Track(name string, props map[string]any) {
	defer r.recoverOp("track")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if name == "" {
		r.fail("track", fmt.Errorf("event without name"))
		return
	}
	r.emit(event.Custom{Name: name, Properties: maps.Clone(props)})
}

// Identify associates the session with a host user id.
func (r *Recorder) Identify(userID string, traits map[string]any) {
	defer r.recoverOp("identify")
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing() {
		return
	}
	if userID == "" {
		r.fail("identify", fmt.Errorf("empty user id"))
		return
	}
	r.emit(event.Identify{UserID: userID, Traits: maps.Clone(traits)})
}

// capturing reports whether callbacks should produce events, counting the
// ones that should not. Callers hold r.mu.
func (r *Recorder) capturing() bool {
	if r.phase == phaseRecording && r.consent {
		return true
	}
	r.discarded.Add(1)
	return false
}

func (r *Recorder) now() int64 {
	ts := r.clock.Now().Sub(r.epoch).Milliseconds()
	return max(ts, r.last)
}

func (r *Recorder) emit(p event.Payload) {
	r.emitAt(r.now(), p)
}

// emitAt delivers p at ts, first flushing pending pointer samples so the
// stream stays in timestamp order.
func (r *Recorder) emitAt(ts int64, p event.Payload) {
	if p.Kind() != event.TypeMouseMove {
		r.flushMoves()
	}
	ts = max(ts, r.last)
	r.last = ts
	e := event.New(ts, r.url, p)
	e.SessionID = r.sessionID
	r.events.Add(1)
	r.sink.Enqueue(e)
}

func (r *Recorder) flushMoves() {
	if len(r.moves) == 0 {
		return
	}
	moves := r.moves
	r.moves = nil
	r.emitAt(r.moveStart, event.MouseMove{Positions: moves})
}

// snapshot serializes root with fresh ids and emits it.
func (r *Recorder) snapshot(op string, root Node) {
	if root == nil {
		r.fail(op, fmt.Errorf("%w: nil document", ErrUnknownNode))
		return
	}
	r.root = root
	r.ids = make(map[Node]int64)
	r.emit(event.DomSnapshot{Root: r.serialize(root)})
}

func (r *Recorder) serialize(n Node) *dom.Node {
	r.nextID++
	out := &dom.Node{
		ID:   r.nextID,
		Kind: n.Kind(),
		Tag:  n.Tag(),
		Text: r.nodeText(n),
	}
	if attrs := n.Attrs(); len(attrs) > 0 {
		out.Attrs = maps.Clone(attrs)
		if _, ok := out.Attrs["value"]; ok && r.shouldMask(n) {
			delete(out.Attrs, "value")
		}
	}
	r.ids[n] = out.ID
	for _, c := range n.Children() {
		if c.Kind().Valid() {
			out.Children = append(out.Children, r.serialize(c))
		}
	}
	return out
}

// nodeText returns the character data to record for n. Script bodies are
// never captured.
func (r *Recorder) nodeText(n Node) string {
	if n.Kind() == dom.KindText {
		if p := n.Parent(); p != nil && p.Tag() == "script" {
			return ""
		}
	}
	return n.Text()
}

func (r *Recorder) forget(n Node) {
	delete(r.ids, n)
	delete(r.values, n)
	for _, c := range n.Children() {
		r.forget(c)
	}
}

// shouldMask reports whether input values of n must not be recorded.
func (r *Recorder) shouldMask(n Node) bool {
	if n == nil || n.Kind() != dom.KindElement {
		return false
	}
	if r.cfg.MaskAllInputs {
		return true
	}
	attrs := n.Attrs()
	if strings.EqualFold(attrs["type"], "password") {
		return true
	}
	if _, ok := attrs[maskAttr]; ok {
		return true
	}
	if len(r.cfg.MaskSelectors) == 0 {
		return false
	}
	sel := Selector(n)
	for _, pattern := range r.cfg.MaskSelectors {
		if Matches(n, pattern) {
			return true
		}
		if ok, _ := path.Match(pattern, sel); ok {
			return true
		}
	}
	return false
}

func (r *Recorder) truncate(s string) string {
	if utf8.RuneCountInString(s) <= r.cfg.MaxTextLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:r.cfg.MaxTextLength])
}

func (r *Recorder) fail(op string, err error) {
	ce := &CaptureError{Op: op, Err: err}
	r.captureErrors.Add(1)
	r.lastErr.Store(ce)
	r.logger.Warn("rewind: capture error", "op", op, "error", err)
}

// recoverOp turns a panic inside an entrypoint into a capture error. It is
// deferred before the lock is taken so the lock is released first.
func (r *Recorder) recoverOp(op string) {
	if v := recover(); v != nil {
		r.fail(op, fmt.Errorf("%w: %v", ErrPanic, v))
	}
}

func textContent(n Node) string {
	if n.Kind() == dom.KindText {
		return n.Text()
	}
	var b strings.Builder
	for _, c := range n.Children() {
		if c.Kind() == dom.KindElement && c.Tag() == "script" {
			continue
		}
		b.WriteString(textContent(c))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
