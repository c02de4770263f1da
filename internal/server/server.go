// Package server exposes the dispatcher over gRPC for the desktop UI and
// hot-reloads the policy file.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/skillgate/internal/admin"
	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/dispatch"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/registry"
)

// DefaultAddr is the default gRPC listen address. Loopback only.
const DefaultAddr = "127.0.0.1:7453"

// watchBuffer is the per-subscriber audit buffer for Watch.
const watchBuffer = 64

// Config holds gRPC server configuration.
type Config struct {
	Addr       string
	Dispatcher *dispatch.Dispatcher
	Authorizer *admin.Authorizer
	// Stream feeds Watch. Nil makes Watch return Unimplemented.
	Stream *audit.Stream
	Logger *zap.Logger
}

// Server implements the Gateway gRPC service.
type Server struct {
	d      *dispatch.Dispatcher
	auth   *admin.Authorizer
	stream *audit.Stream
	logger *zap.Logger
	addr   string

	grpcServer *grpc.Server
}

// New creates a gRPC server around a Dispatcher.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		d:      cfg.Dispatcher,
		auth:   cfg.Authorizer,
		stream: cfg.Stream,
		logger: cfg.Logger,
		addr:   cfg.Addr,
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterGatewayServer(s.grpcServer, s)
	return s, nil
}

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop closes all connections immediately, ending open Watch streams.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// Submit implements the Submit RPC. Fields: capability, arguments,
// request_id, actor.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	name := fields["capability"].GetStringValue()
	if strings.TrimSpace(name) == "" {
		return nil, status.Error(codes.InvalidArgument, "capability is required")
	}

	req := model.Request{
		CapabilityName: name,
		Arguments:      fields["arguments"].GetStructValue().AsMap(),
		RequestID:      fields["request_id"].GetStringValue(),
		Actor:          fields["actor"].GetStringValue(),
	}
	req.Actor = clientActor(req.Actor)

	if fields["dry_run"].GetBoolValue() {
		return toStruct(s.d.Preview(ctx, req))
	}
	return resultStruct(s.d.Submit(ctx, req))
}

// Undo implements the Undo RPC. With no action_id the newest action of
// capability (or of any capability) is undone.
func (s *Server) Undo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	actor := clientActor(fields["actor"].GetStringValue())
	if id := fields["action_id"].GetStringValue(); id != "" {
		return resultStruct(s.d.Undo(ctx, id, actor))
	}
	return resultStruct(s.d.UndoLast(ctx, fields["capability"].GetStringValue(), actor))
}

// Capabilities implements the Capabilities RPC.
func (s *Server) Capabilities(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	descs := s.d.Registry().All()
	caps := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		caps = append(caps, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"category":    d.Category,
			"aliases":     d.Aliases,
			"destructive": d.Destructive,
			"reversible":  d.Reversible,
			"schema":      registry.Schema(d),
		})
	}
	return toStruct(map[string]any{"capabilities": caps})
}

// Status implements the Status RPC.
func (s *Server) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.d.Policy().Snapshot().Status())
}

// SetPrivileged implements the SetPrivileged RPC. Fields: enabled, token,
// reason, duration. Enabling requires the admin token.
func (s *Server) SetPrivileged(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	if !fields["enabled"].GetBoolValue() {
		s.d.SetPrivilegedMode(model.ActorUI, false, 0)
		return toStruct(s.d.Policy().Snapshot().Status())
	}

	var ttl time.Duration
	if raw := fields["duration"].GetStringValue(); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid duration %q: %v", raw, err)
		}
		ttl = d
	}
	ttl, err := s.auth.Grant(fields["token"].GetStringValue(), fields["reason"].GetStringValue(), ttl)
	if errors.Is(err, admin.ErrUnauthorized) {
		return nil, status.Error(codes.PermissionDenied, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.d.SetPrivilegedMode(model.ActorUI, true, ttl)
	return toStruct(s.d.Policy().Snapshot().Status())
}

// Watch implements the Watch RPC: every audit entry recorded after the
// call starts is sent until the client goes away. Slow clients lose
// entries rather than stalling the dispatcher.
func (s *Server) Watch(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.stream == nil {
		return status.Error(codes.Unimplemented, "audit streaming is not enabled")
	}
	entries, cancel := s.stream.Subscribe(watchBuffer)
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			msg, err := toStruct(e)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc call",
		zap.String("method", info.FullMethod),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("code", status.Code(err).String()))
	return resp, err
}

func resultStruct(res model.Result) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"request_id": res.RequestID,
		"status":     string(res.Status),
		"reason":     string(res.Reason),
		"detail":     res.Detail,
		"action_id":  res.ReversibleActionID,
		"data":       res.Data,
	})
}

// clientActor maps a caller-supplied actor to one clients may claim.
// Actors reserved for the gateway itself fall back to ui.
func clientActor(actor string) string {
	switch actor {
	case "", model.ActorUndo, model.ActorExpiry:
		return model.ActorUI
	}
	return actor
}
