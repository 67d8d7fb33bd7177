// Package listener implements the one external-interface adapter instance
// spec section 6 calls for: an HTTP/1.1 front door that turns request bytes
// into event.MessageStart/Data/MessageEnd and pipeline reply events back
// into response bytes. Framing is delegated to net/http's own
// http.ReadRequest/http.Response, not reimplemented — this package only
// translates between the two event models.
//
// Two adapters are exposed. Handler is the plain net/http.Handler case: one
// request, one pipeline, one response, wired through the teacher's
// middleware.Chain (recover/logging/CORS) the same way any net/http service
// composes its handler. Server is the one that actually exercises demux
// (mux/demux.go) end-to-end: it owns the accept loop itself so that several
// pipelined requests on one keep-alive connection can be fed into a single
// Pipeline whose first filter is a demux, replies serialized back onto the
// connection strictly in request order — exactly the framing demux already
// assumes (see mux/demux.go's package doc).
package listener

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/relaymesh/pipecore/buffer"
	perrors "github.com/relaymesh/pipecore/errors"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/idgen"
	middleware "github.com/relaymesh/pipecore/middleware/http-mdl"
	"github.com/relaymesh/pipecore/pipeline"
)

// RequestIDHeader is consulted for a caller-supplied request ID before
// idgen falls back to generating one.
const RequestIDHeader = "X-Request-Id"

// Config configures either adapter. Layout is the pipeline every request (or
// every connection, for Server) is run against; WorkerContext is threaded
// through to filters as pipeline.Pipeline.Context, same as worker.Context
// does for every other entry point in this module.
type Config struct {
	Layout        *pipeline.Layout
	WorkerContext any

	CORS       *middleware.CORSConfig // nil disables CORS entirely
	MaxBodyLog int64                  // passed through to http.MaxBytesReader; 0 means unlimited

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHandler returns a net/http.Handler that runs cfg.Layout once per
// request, wrapped in Recover, Logging, and (if cfg.CORS is set) CORS —
// the teacher's middleware.Chain composing this package's translation
// handler the same way it composes any other net/http handler.
func NewHandler(cfg Config) http.Handler {
	chain := []middleware.Middleware{middleware.Recover(), middleware.Logging()}
	if cfg.CORS != nil {
		chain = append(chain, middleware.CORS(*cfg.CORS))
	}

	return middleware.Chain(chain...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveOne(w, r, cfg)
	}))
}

func serveOne(w http.ResponseWriter, r *http.Request, cfg Config) {
	events, err := eventsFromRequest(r, cfg.MaxBodyLog)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	reply := buffer.NewMessageBuffer()
	done := make(chan *buffer.Message, 1)

	var delivered bool

	p := pipeline.Make(cfg.Layout, cfg.WorkerContext)
	p.Chain(func(_ *gate.Context, ev event.Event) {
		if delivered {
			return
		}

		if se, ok := ev.(*event.StreamEnd); ok {
			if se.Cause.Kind != event.NoError {
				delivered = true
				done <- nil
			}

			return
		}

		if msg := reply.Push(ev); msg != nil {
			delivered = true
			done <- msg
		}
	})

	ctx := gate.NewContext()
	leave := ctx.Enter()
	if err := p.Start(r); err != nil {
		leave()
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	input := p.Input()
	for _, ev := range events {
		input(ctx, ev)
	}
	leave()

	msg := <-done
	if msg == nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)

		return
	}

	writeResponse(w, msg)
}

// eventsFromRequest turns r into MessageStart(Head) Data* MessageEnd, Head
// carrying the fields a layout needs to route or respond to the request:
// method, path, query, proto, header, remoteAddr, and requestId (r's own
// X-Request-Id header if present, else a fresh idgen code).
func eventsFromRequest(r *http.Request, maxBody int64) ([]event.Event, error) {
	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		code, err := idgen.Code(12, idgen.AlphaNumeric)
		if err != nil {
			return nil, err
		}

		reqID = code
	}

	start := event.NewMessageStart()
	start.Head["method"] = r.Method
	start.Head["path"] = r.URL.Path
	start.Head["query"] = r.URL.RawQuery
	start.Head["proto"] = r.Proto
	start.Head["header"] = r.Header.Clone()
	start.Head["remoteAddr"] = r.RemoteAddr
	start.Head["requestId"] = reqID

	events := []event.Event{start}

	body := r.Body
	if maxBody > 0 {
		body = http.MaxBytesReader(nil, r.Body, maxBody)
	}

	if body != nil {
		const chunkSize = 32 * 1024
		buf := make([]byte, chunkSize)

		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				events = append(events, event.NewData(chunk))
			}

			if err != nil {
				break
			}
		}
	}

	events = append(events, &event.MessageEnd{})

	return events, nil
}

// writeResponse renders msg's Head ("status", "header") and body chunks
// onto w. A reply with no "status" in Head defaults to 200.
func writeResponse(w http.ResponseWriter, msg *buffer.Message) {
	status := http.StatusOK
	if msg.Start != nil {
		if s, ok := msg.Start.Head["status"].(int); ok {
			status = s
		}

		if h, ok := msg.Start.Head["header"].(http.Header); ok {
			for k, vs := range h {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
		}
	}

	w.WriteHeader(status)

	for _, d := range msg.Data {
		_, _ = w.Write(d.Bytes())
	}
}

// Server drives cfg.Layout from a raw net.Listener, one Pipeline per
// accepted connection, so that a demux filter at the front of the layout
// can multiplex successive pipelined requests on that connection into
// concurrent sub-pipelines and serialize their replies back in arrival
// order — demux's own contract (mux/demux.go).
type Server struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewServer returns a Server bound to cfg. cfg.Layout is expected to start
// with a demux filter when more than one request per connection is
// expected; a layout without one still works, it just serves one request
// at a time per connection.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg, conns: make(map[net.Conn]struct{})}
}

// Serve accepts connections on ln until Shutdown is called or Accept
// returns an error; temporary Accept errors are not retried.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()

			if closed {
				return nil
			}

			return err
		}

		s.trackConn(conn)

		go s.serveConn(conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

// Shutdown closes the listener and every tracked connection.
func (s *Server) Shutdown(context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	for _, c := range conns {
		_ = c.Close()
	}

	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrackConn(conn)
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	writer := &orderedWriter{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	p := pipeline.Make(s.cfg.Layout, s.cfg.WorkerContext)
	p.Chain(func(_ *gate.Context, ev event.Event) {
		writer.accept(ev)
	})

	ctx := gate.NewContext()

	for first := true; ; first = false {
		deadline := s.cfg.IdleTimeout
		if first {
			deadline = s.cfg.ReadTimeout
		}

		if deadline > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(deadline))
		}

		req, err := http.ReadRequest(reader)
		if err != nil {
			if !stderrors.Is(err, net.ErrClosed) {
				se := event.NewStreamEnd(readErrorKind(err))
				leave := ctx.Enter()
				p.Input()(ctx, se)
				leave()
			}

			return
		}

		events, err := eventsFromRequest(req, s.cfg.MaxBodyLog)
		_ = req.Body.Close()

		if err != nil {
			se := event.NewRuntimeStreamEnd(perrors.New(http.StatusBadRequest, err.Error()))
			leave := ctx.Enter()
			p.Input()(ctx, se)
			leave()

			return
		}

		leave := ctx.Enter()
		input := p.Input()
		for _, ev := range events {
			input(ctx, ev)
		}
		leave()
	}
}

func readErrorKind(err error) event.ErrorKind {
	if stderrors.Is(err, net.ErrClosed) {
		return event.NoError
	}

	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return event.ReadTimeout
	}

	return event.ReadError
}

// orderedWriter accumulates one reply at a time from a Pipeline's chained
// output (already delivered in request order by demux) and writes each
// complete message to conn as a full HTTP response before the next one is
// allowed to start — demux guarantees the order, orderedWriter only needs
// to serialize the actual writes.
type orderedWriter struct {
	mu           sync.Mutex
	conn         net.Conn
	buf          *buffer.MessageBuffer
	writeTimeout time.Duration
}

func (w *orderedWriter) accept(ev event.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		w.buf = buffer.NewMessageBuffer()
	}

	if _, ok := ev.(*event.StreamEnd); ok {
		return
	}

	msg := w.buf.Push(ev)
	if msg == nil {
		return
	}

	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}

	_ = writeHTTPResponse(w.conn, msg)
}

func writeHTTPResponse(conn net.Conn, msg *buffer.Message) error {
	status := http.StatusOK
	header := http.Header{}

	if msg.Start != nil {
		if s, ok := msg.Start.Head["status"].(int); ok {
			status = s
		}

		if h, ok := msg.Start.Head["header"].(http.Header); ok {
			header = h.Clone()
		}
	}

	body := make([]byte, 0)
	for _, d := range msg.Data {
		body = append(body, d.Bytes()...)
	}

	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}

	return resp.Write(conn)
}
