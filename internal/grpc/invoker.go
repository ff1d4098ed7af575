// Package grpc calls and serves arbitrary gRPC methods by path, carrying
// dynamic values over grpc-go with the binary codec.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
)

// CodecFactory returns the codec used for calls to one method.
type CodecFactory func(md *descriptor.MethodDescriptor) encoding.Codec

// Option configures an Invoker.
type Option func(*Invoker)

// WithCodecFactory replaces the default per-method binary codec.
func WithCodecFactory(f CodecFactory) Option {
	return func(i *Invoker) { i.codecFor = f }
}

// WithLimits bounds decoding of responses when the default codec is used.
func WithLimits(limits codec.UnmarshalOptions) Option {
	return func(i *Invoker) {
		i.codecFor = func(md *descriptor.MethodDescriptor) encoding.Codec {
			c := codec.NewMethodCodec(md, codec.ClientSide)
			c.Limits = limits
			return c
		}
	}
}

// Invoker calls methods described by a descriptor.Set. It holds no per-call
// state and is safe for concurrent use.
type Invoker struct {
	conn     grpc.ClientConnInterface
	set      *descriptor.Set
	logger   *slog.Logger
	codecFor CodecFactory
}

// NewInvoker returns an invoker that sends calls over conn.
func NewInvoker(conn grpc.ClientConnInterface, set *descriptor.Set, logger *slog.Logger, opts ...Option) *Invoker {
	i := &Invoker{
		conn:   conn,
		set:    set,
		logger: logger,
		codecFor: func(md *descriptor.MethodDescriptor) encoding.Codec {
			return codec.NewMethodCodec(md, codec.ClientSide)
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Resolve looks up a method by path. It accepts "/pkg.Svc/M", "pkg.Svc/M"
// and "pkg.Svc.M".
func (i *Invoker) Resolve(path string) (*descriptor.MethodDescriptor, error) {
	md, err := i.set.FindMethod(path)
	if err != nil {
		return nil, &InvokeError{Reason: UnknownMethod, Method: path, Err: err}
	}
	return md, nil
}

func (i *Invoker) resolveShape(path string, want descriptor.StreamingShape) (*descriptor.MethodDescriptor, error) {
	md, err := i.Resolve(path)
	if err != nil {
		return nil, err
	}
	if md.Shape() != want {
		return nil, &InvokeError{
			Reason: WrongShape,
			Method: md.FullName(),
			Err:    fmt.Errorf("method is %s, not %s", md.Shape(), want),
		}
	}
	return md, nil
}

// checkRequest rejects a request that is not an instance of the method input.
func checkRequest(md *descriptor.MethodDescriptor, req *dynamic.Value) error {
	switch {
	case req == nil || req.Descriptor() == nil:
		return &InvokeError{Reason: BadRequest, Method: md.FullName(), Err: errors.New("nil request")}
	case req.Descriptor().FullName() != md.Input().FullName():
		return &InvokeError{
			Reason: BadRequest,
			Method: md.FullName(),
			Err:    fmt.Errorf("request is %s, method takes %s", req.Descriptor().FullName(), md.Input().FullName()),
		}
	}
	return nil
}

func (i *Invoker) callOptions(md *descriptor.MethodDescriptor, opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(i.codecFor(md))}, opts...)
}

// InvokeUnary sends req and waits for the single response. The path is
// resolved against the schema first, so an unknown method, a method that
// streams, or a request of the wrong message type fails with an
// *InvokeError without touching the connection. Errors from the server are
// returned as gRPC status errors, and cancelling ctx ends the call with
// codes.Canceled. Use grpc.Header and grpc.Trailer call options to capture
// response metadata.
func (i *Invoker) InvokeUnary(ctx context.Context, path string, req *dynamic.Value, opts ...grpc.CallOption) (*dynamic.Value, error) {
	md, err := i.resolveShape(path, descriptor.Unary)
	if err != nil {
		return nil, err
	}
	if err := checkRequest(md, req); err != nil {
		return nil, err
	}

	i.logger.Debug("invoking unary RPC",
		slog.String("method", md.FullName()),
		bodyAttr("request", req),
	)
	resp := dynamic.New(md.Output())
	if err := i.conn.Invoke(ctx, md.Path(), req, resp, i.callOptions(md, opts)...); err != nil {
		i.logger.Debug("RPC invocation failed",
			slog.String("method", md.FullName()),
			slog.Any("error", err),
		)
		return nil, err
	}
	i.logger.Debug("unary RPC completed",
		slog.String("method", md.FullName()),
		bodyAttr("response", resp),
	)
	return resp, nil
}

// stream is the state shared by the three streaming handles.
type stream struct {
	cs     grpc.ClientStream
	md     *descriptor.MethodDescriptor
	logger *slog.Logger
	cancel context.CancelFunc
	count  int
}

func (i *Invoker) newStream(ctx context.Context, md *descriptor.MethodDescriptor, opts []grpc.CallOption) (*stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{
		StreamName:    md.Name(),
		ServerStreams: md.Shape().ServerStreams(),
		ClientStreams: md.Shape().ClientStreams(),
	}
	cs, err := i.conn.NewStream(ctx, desc, md.Path(), i.callOptions(md, opts)...)
	if err != nil {
		cancel()
		i.logger.Debug("failed to start stream",
			slog.String("method", md.FullName()),
			slog.Any("error", err),
		)
		return nil, err
	}
	i.logger.Debug("stream started",
		slog.String("method", md.FullName()),
		slog.String("shape", md.Shape().String()),
	)
	return &stream{cs: cs, md: md, logger: i.logger, cancel: cancel}, nil
}

func (s *stream) send(req *dynamic.Value) error {
	if err := checkRequest(s.md, req); err != nil {
		return err
	}
	s.logger.Debug("sending stream message",
		slog.String("method", s.md.FullName()),
		bodyAttr("request", req),
	)
	return s.cs.SendMsg(req)
}

// recv returns io.EOF once the server has finished cleanly.
func (s *stream) recv() (*dynamic.Value, error) {
	resp := dynamic.New(s.md.Output())
	if err := s.cs.RecvMsg(resp); err != nil {
		if err == io.EOF {
			s.logger.Debug("stream completed",
				slog.String("method", s.md.FullName()),
				slog.Int("message_count", s.count),
			)
		} else {
			s.logger.Debug("stream receive error",
				slog.String("method", s.md.FullName()),
				slog.Int("message_count", s.count),
				slog.Any("error", err),
			)
		}
		return nil, err
	}
	s.count++
	return resp, nil
}

// all yields responses until the stream ends. Stopping early cancels the
// stream.
func (s *stream) all() iter.Seq2[*dynamic.Value, error] {
	return func(yield func(*dynamic.Value, error) bool) {
		defer s.cancel()
		for {
			resp, err := s.recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// Header blocks until response headers arrive or the stream fails.
func (s *stream) Header() (metadata.MD, error) { return s.cs.Header() }

// Trailer returns the trailing metadata. It is only complete once Recv has
// returned a non-nil error, CloseAndReceive has returned, or All is done.
func (s *stream) Trailer() metadata.MD { return s.cs.Trailer() }

// Close cancels the stream and releases its resources. It is safe to call
// more than once and after the stream ended. A handle must be closed, or
// read until Recv fails, or the call leaks until ctx is done.
func (s *stream) Close() { s.cancel() }

// ServerStreamHandle reads the responses of a server streaming call. The
// request has already been sent and the send side closed.
type ServerStreamHandle struct{ *stream }

// Recv returns the next response, or io.EOF after the last one.
func (h *ServerStreamHandle) Recv() (*dynamic.Value, error) { return h.recv() }

// All returns the responses as a sequence. The first non-nil error ends it;
// a clean end of stream is not reported. Breaking out of the range closes
// the handle.
func (h *ServerStreamHandle) All() iter.Seq2[*dynamic.Value, error] { return h.all() }

// InvokeServerStream sends req and returns a handle for the responses.
// Cancelling ctx ends the stream early, and Recv then reports
// codes.Canceled. Resolution and
// request errors are *InvokeErrors, as for InvokeUnary.
func (i *Invoker) InvokeServerStream(ctx context.Context, path string, req *dynamic.Value, opts ...grpc.CallOption) (*ServerStreamHandle, error) {
	md, err := i.resolveShape(path, descriptor.ServerStreaming)
	if err != nil {
		return nil, err
	}
	if err := checkRequest(md, req); err != nil {
		return nil, err
	}
	s, err := i.newStream(ctx, md, opts)
	if err != nil {
		return nil, err
	}
	if err := s.send(req); err != nil {
		s.cancel()
		return nil, err
	}
	if err := s.cs.CloseSend(); err != nil {
		s.cancel()
		return nil, err
	}
	return &ServerStreamHandle{s}, nil
}

// ClientStreamHandle sends the requests of a client streaming call. Send and
// CloseAndReceive must not be called concurrently.
type ClientStreamHandle struct{ *stream }

// Send sends one request. io.EOF means the server already ended the call;
// CloseAndReceive reports why.
func (h *ClientStreamHandle) Send(req *dynamic.Value) error { return h.send(req) }

// CloseAndReceive half-closes the stream and waits for the response, then
// releases the stream. A server that ends the call OK without replying
// yields io.ErrUnexpectedEOF.
func (h *ClientStreamHandle) CloseAndReceive() (*dynamic.Value, error) {
	defer h.cancel()
	if err := h.cs.CloseSend(); err != nil {
		return nil, err
	}
	resp, err := h.recv()
	if err == io.EOF {
		// The server returned OK without a message.
		return nil, io.ErrUnexpectedEOF
	}
	return resp, err
}

// InvokeClientStream opens a client streaming call. Nothing is sent until
// the first Send. The caller must finish with CloseAndReceive or Close;
// cancelling ctx aborts the call and fails pending operations.
func (i *Invoker) InvokeClientStream(ctx context.Context, path string, opts ...grpc.CallOption) (*ClientStreamHandle, error) {
	md, err := i.resolveShape(path, descriptor.ClientStreaming)
	if err != nil {
		return nil, err
	}
	s, err := i.newStream(ctx, md, opts)
	if err != nil {
		return nil, err
	}
	return &ClientStreamHandle{s}, nil
}

// BidiStreamHandle sends and receives on a bidirectional call. Send and
// Recv may be used from different goroutines, but each by one goroutine at
// a time.
type BidiStreamHandle struct{ *stream }

// Send sends one request. io.EOF means the server already ended the call;
// Recv reports why.
func (h *BidiStreamHandle) Send(req *dynamic.Value) error { return h.send(req) }

// Recv returns the next response, or io.EOF once the server finished OK.
func (h *BidiStreamHandle) Recv() (*dynamic.Value, error) { return h.recv() }

// CloseSend half-closes the stream. Responses can still be received.
func (h *BidiStreamHandle) CloseSend() error { return h.cs.CloseSend() }

// All returns the remaining responses as a sequence, as for
// ServerStreamHandle.All.
func (h *BidiStreamHandle) All() iter.Seq2[*dynamic.Value, error] { return h.all() }

// InvokeBidiStream opens a bidirectional streaming call. Requests and
// responses are independent, so the server may reply at any point. The
// stream ends once both sides are done, or earlier when the handle is
// closed or ctx is cancelled.
func (i *Invoker) InvokeBidiStream(ctx context.Context, path string, opts ...grpc.CallOption) (*BidiStreamHandle, error) {
	md, err := i.resolveShape(path, descriptor.BidiStreaming)
	if err != nil {
		return nil, err
	}
	s, err := i.newStream(ctx, md, opts)
	if err != nil {
		return nil, err
	}
	return &BidiStreamHandle{s}, nil
}

// Call invokes the method at path whatever its shape and returns its
// responses as a sequence. Nothing is sent until the sequence is ranged
// over, and each range starts a new call.
//
// Unary and server streaming methods take exactly one request; any other
// count is a BadRequest InvokeError. Client streaming methods yield their
// single response after requests is exhausted. A nil requests sequence is
// empty.
//
// Responses arrive in order. The first error ends the sequence: it is an
// *InvokeError when the call could not be made, or a status error from the
// server or transport. Breaking out of the range cancels the call, as does
// cancelling ctx, which surfaces as codes.Canceled or
// codes.DeadlineExceeded. Response metadata passed to grpc.Header and
// grpc.Trailer options is filled in by the time the sequence ends.
//
// For bidirectional methods requests is ranged over on a separate
// goroutine, so it must be safe to pull from while responses are consumed.
// That goroutine is not waited for when the call ends early: a requests
// sequence that blocks should also return once ctx is done, or it leaks
// until it does.
func (i *Invoker) Call(ctx context.Context, path string, requests iter.Seq[*dynamic.Value], opts ...grpc.CallOption) iter.Seq2[*dynamic.Value, error] {
	if requests == nil {
		requests = func(func(*dynamic.Value) bool) {}
	}
	return func(yield func(*dynamic.Value, error) bool) {
		md, err := i.Resolve(path)
		if err != nil {
			yield(nil, err)
			return
		}

		switch md.Shape() {
		case descriptor.Unary, descriptor.ServerStreaming:
			req, err := single(md, requests)
			if err != nil {
				yield(nil, err)
				return
			}
			if md.Shape() == descriptor.Unary {
				yield(i.InvokeUnary(ctx, md.Path(), req, opts...))
				return
			}
			h, err := i.InvokeServerStream(ctx, md.Path(), req, opts...)
			if err != nil {
				yield(nil, err)
				return
			}
			for resp, err := range h.All() {
				if !yield(resp, err) {
					return
				}
			}

		case descriptor.ClientStreaming:
			h, err := i.InvokeClientStream(ctx, md.Path(), opts...)
			if err != nil {
				yield(nil, err)
				return
			}
			for req := range requests {
				if err := h.Send(req); err != nil {
					if err == io.EOF {
						break
					}
					h.Close()
					yield(nil, err)
					return
				}
			}
			yield(h.CloseAndReceive())

		case descriptor.BidiStreaming:
			h, err := i.InvokeBidiStream(ctx, md.Path(), opts...)
			if err != nil {
				yield(nil, err)
				return
			}
			i.bidi(h, requests, yield)
		}
	}
}

// bidi sends requests from one goroutine while responses are yielded on the
// caller's. The sender is only joined once it has finished by itself: a
// producer blocked inside requests must not hold up the end of the call.
func (i *Invoker) bidi(h *BidiStreamHandle, requests iter.Seq[*dynamic.Value], yield func(*dynamic.Value, error) bool) {
	var g errgroup.Group
	sent := make(chan struct{})
	g.Go(func() (err error) {
		defer func() {
			close(sent)
			if err != nil {
				// Wakes the receiver, which then reports err.
				h.Close()
			}
		}()
		for req := range requests {
			if err := h.Send(req); err != nil {
				if err == io.EOF {
					// The server is done; Recv reports the status.
					return nil
				}
				return err
			}
		}
		return h.CloseSend()
	})

	var recvErr error
	for {
		resp, err := h.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		if !yield(resp, nil) {
			h.Close()
			return
		}
	}
	h.Close()

	select {
	case <-sent:
		if err := g.Wait(); err != nil {
			yield(nil, err)
			return
		}
	default:
		i.logger.Debug("bidi call ended before its requests",
			slog.String("method", h.md.FullName()),
		)
	}
	if recvErr != nil {
		yield(nil, recvErr)
	}
}

// single takes the one request a unary or server streaming call needs.
func single(md *descriptor.MethodDescriptor, requests iter.Seq[*dynamic.Value]) (*dynamic.Value, error) {
	var req *dynamic.Value
	n := 0
	for r := range requests {
		n++
		if n > 1 {
			break
		}
		req = r
	}
	if n != 1 {
		return nil, &InvokeError{
			Reason: BadRequest,
			Method: md.FullName(),
			Err:    fmt.Errorf("%s method takes exactly one request", md.Shape()),
		}
	}
	return req, nil
}
