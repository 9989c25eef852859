package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/toolgate/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "toolgate.v1.Gate"

// Full method names.
const (
	CheckMethod  = "/toolgate.v1.Gate/Check"
	ReloadMethod = "/toolgate.v1.Gate/Reload"
)

// GateServer is the server API of the decision service. Messages are
// structpb.Struct bodies; see RequestToStruct and ResultToStruct for the
// field layout.
type GateServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reload(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GateServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reloadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServer).Reload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReloadMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GateServer).Reload(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the decision service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
		{MethodName: "Reload", Handler: reloadHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "toolgate/v1/gate.proto",
}

// RegisterGateServer registers srv on s.
func RegisterGateServer(s grpc.ServiceRegistrar, srv GateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RequestToStruct encodes a request. Args are normalized through their JSON
// form; a payload that is not JSON travels as a string.
func RequestToStruct(req model.Request) (*structpb.Struct, error) {
	fields := map[string]any{
		"tool":     req.Tool,
		"identity": req.Identity,
	}
	if req.Session != "" {
		fields["session"] = req.Session
	}
	if req.Args != nil {
		payload, err := model.SerializeArgs(req.Args)
		if err != nil {
			return nil, fmt.Errorf("serialize arguments: %w", err)
		}
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			v = string(payload)
		}
		fields["args"] = v
	}
	return structpb.NewStruct(fields)
}

// RequestFromStruct decodes a request. The policy path is never taken from
// the wire.
func RequestFromStruct(s *structpb.Struct) model.Request {
	f := s.GetFields()
	req := model.Request{
		Tool:     f["tool"].GetStringValue(),
		Identity: f["identity"].GetStringValue(),
		Session:  f["session"].GetStringValue(),
	}
	if a, ok := f["args"]; ok {
		req.Args = a.AsInterface()
	}
	return req
}

// ResultToStruct encodes a decision.
func ResultToStruct(res model.CheckResult) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"allowed":     structpb.NewBoolValue(res.Allowed),
		"decision":    structpb.NewStringValue(string(res.Decision())),
		"reason":      structpb.NewStringValue(res.Reason),
		"stage":       structpb.NewStringValue(string(res.Stage)),
		"decision_id": structpb.NewStringValue(res.DecisionID),
		"timestamp":   structpb.NewStringValue(model.UTCISO(res.Timestamp)),
	}
	if res.MatchedRuleID != "" {
		fields["matched_rule_id"] = structpb.NewStringValue(res.MatchedRuleID)
	}
	if res.PolicyHash != "" {
		fields["policy_hash"] = structpb.NewStringValue(res.PolicyHash)
	}
	if res.RetryAfter > 0 {
		fields["retry_after_ms"] = structpb.NewNumberValue(float64(res.RetryAfter.Milliseconds()))
	}
	if res.AuditWarning != "" {
		fields["audit_warning"] = structpb.NewStringValue(res.AuditWarning)
	}
	return &structpb.Struct{Fields: fields}
}

// ResultFromStruct decodes a decision. Anything without an explicit
// allowed=true is a block.
func ResultFromStruct(s *structpb.Struct) model.CheckResult {
	f := s.GetFields()
	res := model.CheckResult{
		Allowed:       f["allowed"].GetBoolValue(),
		Reason:        f["reason"].GetStringValue(),
		MatchedRuleID: f["matched_rule_id"].GetStringValue(),
		Stage:         model.Stage(f["stage"].GetStringValue()),
		DecisionID:    f["decision_id"].GetStringValue(),
		PolicyHash:    f["policy_hash"].GetStringValue(),
		AuditWarning:  f["audit_warning"].GetStringValue(),
	}
	if ms := f["retry_after_ms"].GetNumberValue(); ms > 0 && ms < math.MaxInt64/float64(time.Millisecond) {
		res.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	if ts, err := time.Parse(model.TimestampFormat, f["timestamp"].GetStringValue()); err == nil {
		res.Timestamp = ts
	}
	return res
}
