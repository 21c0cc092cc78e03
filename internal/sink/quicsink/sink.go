// Package quicsink is the default network sink for the downstream
// transport writer, out of scope for the assembly core itself: it
// drains messages from an outputbuffer.Buffer and streams them to a
// remote collector over HTTP/3, using concurrent long-lived streaming
// POSTs with bounded backpressure and retry-with-backoff.
package quicsink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oracdc-io/oracdc/internal/metrics"
	"github.com/oracdc-io/oracdc/internal/outputbuffer"
)

// Config controls Sink behavior.
type Config struct {
	Addr    string
	URLPath string
	TLS     *tls.Config

	NumConnections   int
	QueueCapacity    int
	MaxBatchBytes    int
	MaxBatchMessages int
	FlushInterval    time.Duration

	MaxWriteRetries   int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffJitterFrac float64

	// RateLimitPerSecond caps dispatch attempts per connection under
	// sustained backpressure, instead of a busy retry loop.
	RateLimitPerSecond int

	QUIC *quic.Config

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.URLPath == "" {
		c.URLPath = "/oracdc/events"
	}
	if c.NumConnections <= 0 {
		c.NumConnections = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4096
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 64 * 1024
	}
	if c.MaxBatchMessages <= 0 {
		c.MaxBatchMessages = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.MaxWriteRetries < 0 {
		c.MaxWriteRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BackoffJitterFrac <= 0 {
		c.BackoffJitterFrac = 0.2
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 500
	}
}

func newQUICConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		Tracer: func(ctx context.Context, p logging.Perspective, connID quic.ConnectionID) *logging.ConnectionTracer {
			return qlog.DefaultConnectionTracer(ctx, p, connID)
		},
	}
}

// Sink streams drained outputbuffer messages over HTTP/3 using
// concurrent long-lived requests, one batch envelope per write.
type Sink struct {
	cfg  Config
	url  string
	pool *sync.Pool

	quit   chan struct{}
	closed int32
	wg     sync.WaitGroup

	client *http.Client
	rt     *http3.Transport

	eventsCh   chan []byte
	connInputs []chan batch
	limiters   []*rate.Limiter
	randSrc    *rand.Rand
}

// batch is one dispatched group of framed messages tagged with a
// correlation id a downstream collector can use to dedupe retries.
type batch struct {
	id      uuid.UUID
	payload []byte
	msgs    int
}

// New creates a Sink ready to accept Send calls and dials lazily.
func New(cfg Config) (*Sink, error) {
	cfg.setDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("quicsink: Config.Addr is required")
	}
	cfg.QUIC = newQUICConfig()
	rt := &http3.Transport{TLSClientConfig: cfg.TLS, QUICConfig: cfg.QUIC}
	client := &http.Client{Transport: rt}

	s := &Sink{
		cfg:      cfg,
		url:      fmt.Sprintf("https://%s%s", cfg.Addr, cfg.URLPath),
		pool:     &sync.Pool{New: func() any { return make([]byte, 0, 2048) }},
		quit:     make(chan struct{}),
		client:   client,
		rt:       rt,
		eventsCh: make(chan []byte, cfg.QueueCapacity),
		randSrc:  rand.New(rand.NewSource(1)),
	}

	s.connInputs = make([]chan batch, cfg.NumConnections)
	s.limiters = make([]*rate.Limiter, cfg.NumConnections)
	for i := 0; i < cfg.NumConnections; i++ {
		s.connInputs[i] = make(chan batch, 1)
		s.limiters[i] = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
	}

	s.wg.Add(1)
	go s.batchingLoop()
	for i := 0; i < cfg.NumConnections; i++ {
		s.wg.Add(1)
		go s.connectionManager(i, s.connInputs[i])
	}
	return s, nil
}

// Pump drains messages from buf and feeds them to Send until ctx is
// cancelled or buf reaches clean end-of-stream; it is the consumer
// loop that makes Sink an implementation of outputbuffer's external
// reader contract.
func (s *Sink) Pump(ctx context.Context, buf *outputbuffer.Buffer) error {
	for {
		msg, ok, err := buf.ReadMessage(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.Send(msg); err != nil {
			return err
		}
	}
}

// Send blocks until msg is enqueued or the sink is closed.
func (s *Sink) Send(msg []byte) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return errors.New("quicsink: sink closed")
	}
	buf := s.pool.Get().([]byte)[:0]
	buf = append(buf, msg...)
	select {
	case s.eventsCh <- buf:
		return nil
	case <-s.quit:
		s.pool.Put(buf[:0])
		return errors.New("quicsink: sink closed")
	}
}

// Close gracefully drains and stops every goroutine.
func (s *Sink) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return errors.New("quicsink: already closed")
	}
	close(s.quit)
	s.wg.Wait()
	return s.rt.Close()
}

type connectionState struct {
	writer    io.WriteCloser
	cancelReq context.CancelFunc
}

func (s *Sink) batchingLoop() {
	defer s.wg.Done()
	defer func() {
		for _, ch := range s.connInputs {
			close(ch)
		}
	}()

	var buf bytes.Buffer
	msgs := 0
	flushTimer := time.NewTimer(s.cfg.FlushInterval)
	defer flushTimer.Stop()

	dispatch := func() {
		if msgs == 0 {
			return
		}
		payload := make([]byte, buf.Len())
		copy(payload, buf.Bytes())
		b := batch{id: uuid.New(), payload: payload, msgs: msgs}

		start := s.randSrc.Intn(len(s.connInputs))
		for i := 0; i < len(s.connInputs); i++ {
			idx := (start + i) % len(s.connInputs)
			select {
			case s.connInputs[idx] <- b:
				buf.Reset()
				msgs = 0
				return
			default:
			}
		}
		select {
		case s.connInputs[start] <- b:
		case <-s.quit:
		}
		buf.Reset()
		msgs = 0
	}

	resetTimer := func() {
		if !flushTimer.Stop() {
			select {
			case <-flushTimer.C:
			default:
			}
		}
		flushTimer.Reset(s.cfg.FlushInterval)
	}

	for {
		select {
		case <-s.quit:
			for {
				select {
				case m := <-s.eventsCh:
					frameAppend(&buf, m)
					msgs++
					s.pool.Put(m[:0])
				default:
					dispatch()
					return
				}
			}
		case m := <-s.eventsCh:
			frameAppend(&buf, m)
			msgs++
			s.pool.Put(m[:0])
			if buf.Len() >= s.cfg.MaxBatchBytes || msgs >= s.cfg.MaxBatchMessages {
				dispatch()
				resetTimer()
			}
		case <-flushTimer.C:
			dispatch()
			resetTimer()
		}
	}
}

func (s *Sink) connectionManager(id int, in <-chan batch) {
	defer s.wg.Done()
	var st *connectionState
	defer func() {
		if st != nil {
			_ = st.writer.Close()
			st.cancelReq()
		}
	}()

	for b := range in {
		_ = s.limiters[id].Wait(context.Background())
		if st == nil {
			var err error
			st, err = s.establishConnection(id)
			if err != nil {
				s.logWarn("establish failed", id, err)
				if !s.retrySend(id, nil, b) {
					s.drop(id, b, "establish failed")
				}
				continue
			}
		}
		if err := writeBatch(st.writer, b); err != nil {
			s.logWarn("write failed, reconnecting", id, err)
			_ = st.writer.Close()
			st.cancelReq()
			st = nil
			if !s.retrySend(id, nil, b) {
				s.drop(id, b, "write failed")
			}
			continue
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncDMLEventsEmitted(context.Background())
		}
	}
}

func writeBatch(w io.Writer, b batch) error {
	var idBytes [16]byte
	copy(idBytes[:], b.id[:])
	if _, err := w.Write(idBytes[:]); err != nil {
		return err
	}
	_, err := w.Write(b.payload)
	return err
}

func (s *Sink) retrySend(id int, st *connectionState, b batch) bool {
	backoff := s.cfg.InitialBackoff
	attempts := 0
	for {
		if attempts > s.cfg.MaxWriteRetries {
			return false
		}
		attempts++
		if st == nil {
			var err error
			st, err = s.establishConnection(id)
			if err != nil {
				s.logWarn("establish failed during retry", id, err)
				if !s.sleepBackoff(backoff) {
					return false
				}
				backoff = nextBackoff(backoff, s.cfg.MaxBackoff, s.cfg.BackoffJitterFrac, s.randSrc)
				continue
			}
		}
		if err := writeBatch(st.writer, b); err == nil {
			return true
		}
		_ = st.writer.Close()
		st.cancelReq()
		st = nil
		if !s.sleepBackoff(backoff) {
			return false
		}
		backoff = nextBackoff(backoff, s.cfg.MaxBackoff, s.cfg.BackoffJitterFrac, s.randSrc)
	}
}

func (s *Sink) sleepBackoff(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.quit:
		return false
	}
}

func nextBackoff(cur, max time.Duration, jitterFrac float64, r *rand.Rand) time.Duration {
	next := time.Duration(float64(cur) * 2)
	if next > max {
		next = max
	}
	if jitterFrac > 0 && r != nil {
		j := 1 + (r.Float64()*2-1)*jitterFrac
		next = time.Duration(math.Max(0, float64(next)*j))
	}
	return next
}

func (s *Sink) drop(connID int, b batch, reason string) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warnw("quicsink: dropping batch", "conn", connID, "batchID", b.id, "msgs", b.msgs, "reason", reason)
	}
}

func (s *Sink) logWarn(msg string, connID int, err error) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warnw(msg, "conn", connID, "err", err)
	}
}

func (s *Sink) establishConnection(id int) (*connectionState, error) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, pr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("quicsink: new request: %w", err)
	}

	go func() {
		resp, err := s.client.Do(req)
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("quicsink: request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			_ = pw.CloseWithError(fmt.Errorf("quicsink: server returned %s", resp.Status))
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = pw.Close()
	}()

	if s.cfg.Logger != nil {
		s.cfg.Logger.Debugw("quicsink: established HTTP/3 stream", "conn", id, "url", s.url)
	}
	return &connectionState{writer: pw, cancelReq: cancel}, nil
}

// frameAppend writes a 4-byte big-endian length prefix followed by msg
// into buf, the intra-batch framing the collector unpacks.
func frameAppend(buf *bytes.Buffer, msg []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(msg)))
	buf.Write(n[:])
	buf.Write(msg)
}
