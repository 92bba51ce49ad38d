// Package api provides the gRPC Annotator service.
//
// Messages are protobuf well-known types (structpb, emptypb), so the
// service is declared by hand with a grpc.ServiceDesc instead of generated
// stubs. Clients send JSON-shaped facts and receive JSON-shaped results.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully qualified service and method names.
const (
	ServiceName     = "annotator.v1.Annotator"
	AnnotateMethod  = "/" + ServiceName + "/Annotate"
	ListRulesMethod = "/" + ServiceName + "/ListRules"
)

// AnnotatorServer is the server API for the Annotator service.
type AnnotatorServer interface {
	// Annotate evaluates one fact against the loaded rules.
	Annotate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ListRules describes the loaded rules.
	ListRules(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the Annotator service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnnotatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Annotate", Handler: annotateHandler},
		{MethodName: "ListRules", Handler: listRulesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "annotator/v1/annotator.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv AnnotatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func annotateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnnotatorServer).Annotate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnnotateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnnotatorServer).Annotate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listRulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnnotatorServer).ListRules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListRulesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnnotatorServer).ListRules(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the Annotator service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Annotate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AnnotateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRules(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListRulesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Service implements AnnotatorServer over a rules engine.
// Thin orchestration layer: facts come from internal/facts, evaluation
// from internal/rules.
type Service struct {
	registry    *registry.Registry
	evalTimeout time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	engine *rules.Engine
}

// NewService creates a service evaluating with engine. A zero evalTimeout
// leaves the request deadline as the only bound.
func NewService(engine *rules.Engine, reg *registry.Registry, evalTimeout time.Duration, logger *slog.Logger) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Service{
		engine:      engine,
		registry:    reg,
		evalTimeout: evalTimeout,
		logger:      logger,
	}, nil
}

// SetEngine swaps in a freshly loaded engine. In-flight requests finish on
// the engine they started with.
func (s *Service) SetEngine(engine *rules.Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

func (s *Service) currentEngine() *rules.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}
