package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/signature"
	"github.com/xraph/rewind/transport"
)

type fakeSender struct {
	mu      sync.Mutex
	codes   []int
	calls   int
	batches []*event.Batch
}

func (f *fakeSender) Send(_ context.Context, b *event.Batch) transport.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := f.codes[min(f.calls, len(f.codes)-1)]
	f.calls++
	if code >= 200 && code < 300 {
		f.batches = append(f.batches, b)
		return transport.Result{StatusCode: code}
	}
	return transport.Result{StatusCode: code, Err: errors.New("nope")}
}

func (f *fakeSender) delivered() []*event.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*event.Batch(nil), f.batches...)
}

func fastConfig() transport.Config {
	return transport.Config{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func resize(ts int64) *event.Event {
	return event.New(ts, "https://shop.test/", event.Resize{Width: 800, Height: 600})
}

func TestRetrierDecide(t *testing.T) {
	r := transport.NewRetrier(3, time.Millisecond, time.Second)
	tests := []struct {
		name    string
		code    int
		attempt int
		want    transport.Decision
	}{
		{"202 accepted", 202, 1, transport.Delivered},
		{"409 duplicate batch", 409, 1, transport.Delivered},
		{"400 bad batch", 400, 1, transport.Drop},
		{"403 recording disabled", 403, 1, transport.Drop},
		{"408 timeout retries", 408, 1, transport.Retry},
		{"429 rate limited retries", 429, 2, transport.Retry},
		{"429 exhausted", 429, 3, transport.Drop},
		{"503 retries", 503, 1, transport.Retry},
		{"500 exhausted", 500, 3, transport.Drop},
		{"network error retries", 0, 1, transport.Retry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Decide(transport.Result{StatusCode: tt.code}, tt.attempt)
			if got != tt.want {
				t.Errorf("Decide(%d, %d) = %v, want %v", tt.code, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBatcherCutsAtMaxBatchSize(t *testing.T) {
	sender := &fakeSender{codes: []int{202}}
	sid := id.NewSessionID()
	cfg := fastConfig()
	cfg.MaxBatchSize = 3
	b := transport.NewBatcher(sid, sender, cfg)

	for i := range 7 {
		b.Enqueue(resize(int64(i)))
	}
	st := b.Stats()
	if st.Batches != 2 || st.Queued != 2 || st.Buffered != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := sender.delivered()
	if len(got) != 3 {
		t.Fatalf("delivered %d batches, want 3", len(got))
	}
	var ts int64
	for i, batch := range got {
		if batch.SessionID != sid || batch.Final {
			t.Errorf("batch %d = %+v", i, batch)
		}
		for _, e := range batch.Events {
			if e.Timestamp != ts || e.SessionID != sid {
				t.Errorf("event out of order or unstamped: ts=%d want %d", e.Timestamp, ts)
			}
			ts++
		}
	}
	if got[0].ID == got[1].ID {
		t.Error("batch ids must be unique")
	}
}

func TestBatcherRetriesThenDelivers(t *testing.T) {
	sender := &fakeSender{codes: []int{503, 503, 202}}
	b := transport.NewBatcher(id.NewSessionID(), sender, fastConfig())
	b.Enqueue(resize(1))

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	st := b.Stats()
	if sender.calls != 3 || st.Retries != 2 || st.Delivered != 1 {
		t.Errorf("calls=%d stats=%+v", sender.calls, st)
	}
}

func TestBatcherDropsClientErrors(t *testing.T) {
	sender := &fakeSender{codes: []int{400}}
	b := transport.NewBatcher(id.NewSessionID(), sender, fastConfig())
	b.Enqueue(resize(1))

	err := b.Flush(context.Background())
	var te *transport.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Flush() = %v, want TransportError", err)
	}
	if te.Attempts != 1 || te.StatusCode != 400 {
		t.Errorf("error = %+v", te)
	}
	if b.Stats().Dropped != 1 {
		t.Errorf("dropped = %d", b.Stats().Dropped)
	}
}

func TestBatcherExhaustsAttempts(t *testing.T) {
	sender := &fakeSender{codes: []int{500}}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	b := transport.NewBatcher(id.NewSessionID(), sender, cfg)
	b.Enqueue(resize(1))

	err := b.Flush(context.Background())
	var te *transport.TransportError
	if !errors.As(err, &te) || te.Attempts != 3 {
		t.Fatalf("Flush() = %v", err)
	}
	if sender.calls != 3 {
		t.Errorf("calls = %d", sender.calls)
	}
}

func TestBatcherQueueOverflowDrops(t *testing.T) {
	sender := &fakeSender{codes: []int{202}}
	cfg := fastConfig()
	cfg.MaxBatchSize = 1
	cfg.QueueSize = 1
	b := transport.NewBatcher(id.NewSessionID(), sender, cfg)

	for i := range 3 {
		b.Enqueue(resize(int64(i)))
	}
	st := b.Stats()
	if st.Batches != 3 || st.Dropped != 2 || st.Queued != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCloseSpoolsAndStartResends(t *testing.T) {
	spool, err := transport.OpenSpool("")
	if err != nil {
		t.Fatal(err)
	}
	defer spool.Close()

	sid := id.NewSessionID()
	down := &fakeSender{codes: []int{503}}
	cfg := fastConfig()
	cfg.Spool = spool
	b := transport.NewBatcher(sid, down, cfg)
	b.Enqueue(resize(1))
	b.Enqueue(resize(2))

	if err := b.Close(context.Background()); err == nil {
		t.Fatal("Close() should report the failed upload")
	}
	if down.calls != 1 {
		t.Errorf("unload should make a single attempt, made %d", down.calls)
	}
	if n, _ := spool.Len(); n != 1 {
		t.Fatalf("spool holds %d batches, want 1", n)
	}
	if b.Stats().Spooled != 1 {
		t.Errorf("stats = %+v", b.Stats())
	}
	b.Enqueue(resize(3))
	if b.Stats().Dropped != 1 {
		t.Error("enqueue after close should drop")
	}

	up := &fakeSender{codes: []int{202}}
	next := transport.NewBatcher(sid, up, cfg)
	next.Start(context.Background())
	defer next.Close(context.Background())

	got := up.delivered()
	if len(got) != 1 {
		t.Fatalf("resent %d batches, want 1", len(got))
	}
	if !got[0].Final || len(got[0].Events) != 2 || got[0].Events[1].Timestamp != 2 {
		t.Errorf("resent batch = %+v", got[0])
	}
	if n, _ := spool.Len(); n != 0 {
		t.Errorf("spool still holds %d batches", n)
	}
}

func TestBatcherBackgroundFlush(t *testing.T) {
	sender := &fakeSender{codes: []int{202}}
	cfg := fastConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	b := transport.NewBatcher(id.NewSessionID(), sender, cfg)
	b.Start(context.Background())

	b.Enqueue(resize(1))
	deadline := time.Now().Add(2 * time.Second)
	for len(sender.delivered()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background loop never delivered")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	last := sender.delivered()
	if !last[len(last)-1].Final {
		t.Error("close should send a final batch")
	}
}

// slowSender records the first timestamp of each batch it receives and the
// peak number of uploads in flight.
type slowSender struct {
	inflight atomic.Int32
	peak     atomic.Int32

	mu    sync.Mutex
	order []int64
}

func (s *slowSender) Send(_ context.Context, b *event.Batch) transport.Result {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	if len(b.Events) > 0 {
		s.mu.Lock()
		s.order = append(s.order, b.Events[0].Timestamp)
		s.mu.Unlock()
	}
	return transport.Result{StatusCode: 202}
}

func TestBatcherUploadsInCutOrder(t *testing.T) {
	sender := &slowSender{}
	cfg := fastConfig()
	cfg.MaxBatchSize = 1
	cfg.QueueSize = 64
	cfg.FlushInterval = time.Hour
	b := transport.NewBatcher(id.NewSessionID(), sender, cfg)
	b.Start(context.Background())

	const n = 40
	for i := range n {
		b.Enqueue(resize(int64(i)))
	}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Flush(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	if p := sender.peak.Load(); p != 1 {
		t.Errorf("peak concurrent uploads = %d, want 1", p)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.order) != n {
		t.Fatalf("uploaded %d batches with events, want %d", len(sender.order), n)
	}
	for i, ts := range sender.order {
		if ts != int64(i) {
			t.Fatalf("batch %d carried ts %d: uploads out of cut order %v", i, ts, sender.order)
		}
	}
}

func TestHTTPSenderSignsBatch(t *testing.T) {
	const key = "rwk_test"
	var gotBatch *event.Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(transport.HeaderTimestamp), 10, 64)
		if r.Header.Get(transport.HeaderKey) != key {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !signature.Verify(body, key, ts, r.Header.Get(transport.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b, _, err := event.DecodeBatch(body)
		if err != nil || b.ID.String() != r.Header.Get(transport.HeaderBatchID) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBatch = b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sid := id.NewSessionID()
	e := resize(10)
	e.SessionID = sid
	batch := &event.Batch{ID: id.NewBatchID(), SessionID: sid, Events: []*event.Event{e}}

	res := transport.NewHTTPSender(srv.URL, key).Send(context.Background(), batch)
	if res.StatusCode != http.StatusAccepted || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if gotBatch == nil || len(gotBatch.Events) != 1 || gotBatch.Events[0].Timestamp != 10 {
		t.Errorf("server saw %+v", gotBatch)
	}
}

func TestHTTPSenderBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := transport.NewHTTPSender(srv.URL, "rwk_x", transport.WithBreaker(2, time.Minute))
	batch := &event.Batch{ID: id.NewBatchID(), SessionID: id.NewSessionID()}

	for range 2 {
		if res := s.Send(context.Background(), batch); res.StatusCode != 500 {
			t.Fatalf("status = %d", res.StatusCode)
		}
	}
	res := s.Send(context.Background(), batch)
	if res.StatusCode != 0 || !errors.Is(res.Err, gobreaker.ErrOpenState) {
		t.Errorf("third send = %+v, want open breaker", res)
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times", hits.Load())
	}
	if s.BreakerState() != "open" {
		t.Errorf("state = %s", s.BreakerState())
	}
}

func TestLocalSenderMapsErrors(t *testing.T) {
	bad := errors.New("invalid")
	s := transport.NewLocalSender(func(_ context.Context, b *event.Batch) error {
		if len(b.Events) == 0 {
			return bad
		}
		return nil
	}, func(err error) int {
		if errors.Is(err, bad) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	})

	if res := s.Send(context.Background(), &event.Batch{Events: []*event.Event{resize(1)}}); res.StatusCode != 202 {
		t.Errorf("ok batch = %+v", res)
	}
	if res := s.Send(context.Background(), &event.Batch{}); res.StatusCode != 400 || !errors.Is(res.Err, bad) {
		t.Errorf("bad batch = %+v", res)
	}
}
