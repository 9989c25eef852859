// Package server exposes the gate as a gRPC decision service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/toolgate/internal/gate"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr       string
	PolicyPath string
}

// Server implements GateServer on top of a Gate. Every request is decided
// against the server's own policy path.
type Server struct {
	gate *gate.Gate
	log  *slog.Logger
	cfg  Config

	grpcServer *grpc.Server
}

// New creates a gRPC server around g. The policy is loaded eagerly so a
// broken file is reported at startup; the server still starts and blocks
// every call until a reload succeeds.
func New(g *gate.Gate, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		gate:       g,
		log:        log,
		cfg:        cfg,
		grpcServer: grpc.NewServer(),
	}
	if _, err := g.Policy(cfg.PolicyPath); err != nil {
		log.Error("policy not usable, all calls will be blocked", slog.String("error", err.Error()))
	}
	RegisterGateServer(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("serving", slog.String("addr", lis.Addr().String()), slog.String("policy", s.cfg.PolicyPath))
	return s.grpcServer.Serve(lis)
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Check implements the Check RPC.
func (s *Server) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := RequestFromStruct(in)
	req.PolicyPath = s.cfg.PolicyPath
	return ResultToStruct(s.gate.Check(ctx, req)), nil
}

// Reload implements the Reload RPC.
func (s *Server) Reload(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ReloadPolicy(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "reload: %v", err)
	}
	c, _ := s.gate.Policy(s.cfg.PolicyPath)
	return structpb.NewStruct(map[string]any{
		"reloaded":    true,
		"policy_hash": c.Hash,
	})
}

// ReloadPolicy re-reads the policy file. Called by the hot-reloader and the
// Reload RPC.
func (s *Server) ReloadPolicy() error {
	return s.gate.Reload(s.cfg.PolicyPath)
}
