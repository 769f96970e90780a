package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"quantbench/internal/domain"
	"quantbench/internal/strategy"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "quantbench.v1.BacktestService"

// Messages are google.protobuf.Struct values carrying the same JSON
// documents as the REST API, so both transports share one schema.

// BacktestServiceServer is the server API for the backtest service.
type BacktestServiceServer interface {
	SubmitBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBacktests(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategyTypes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchBacktest(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterBacktestServiceServer registers srv on s.
func RegisterBacktestServiceServer(s grpc.ServiceRegistrar, srv BacktestServiceServer) {
	s.RegisterService(&BacktestServiceDesc, srv)
}

func unaryHandler(method string, call func(BacktestServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + BacktestServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BacktestServiceServer).WatchBacktest(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// BacktestServiceDesc describes the backtest service for grpc.Server.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitBacktest", Handler: unaryHandler("SubmitBacktest", BacktestServiceServer.SubmitBacktest)},
		{MethodName: "GetBacktest", Handler: unaryHandler("GetBacktest", BacktestServiceServer.GetBacktest)},
		{MethodName: "ListBacktests", Handler: unaryHandler("ListBacktests", BacktestServiceServer.ListBacktests)},
		{MethodName: "CancelBacktest", Handler: unaryHandler("CancelBacktest", BacktestServiceServer.CancelBacktest)},
		{MethodName: "ListStrategyTypes", Handler: unaryHandler("ListStrategyTypes", BacktestServiceServer.ListStrategyTypes)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchBacktest", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "quantbench/v1/backtest.proto",
}

// ---------------------------------------------------------------------------
// Server implementation
// ---------------------------------------------------------------------------

type grpcService struct {
	api *Server
}

var _ BacktestServiceServer = (*grpcService)(nil)

func (g *grpcService) SubmitBacktest(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, g.toStatus(err)
	}
	res, err := g.api.submit(req)
	if err != nil {
		return nil, g.toStatus(err)
	}
	return g.reply(res)
}

func (g *grpcService) GetBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := g.api.runs.Get(ctx, idOf(in))
	if err != nil {
		return nil, g.toStatus(err)
	}
	return g.reply(res)
}

func (g *grpcService) ListBacktests(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := 100
	if v, ok := in.GetFields()["limit"]; ok {
		limit = int(v.GetNumberValue())
	}
	list, err := g.api.runs.List(ctx, limit)
	if err != nil {
		return nil, g.toStatus(err)
	}
	if list == nil {
		list = []domain.BacktestResult{}
	}
	return g.reply(ListResponse{Backtests: list, Count: len(list)})
}

func (g *grpcService) CancelBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := idOf(in)
	if err := g.api.runs.Cancel(ctx, id); err != nil {
		return nil, g.toStatus(err)
	}
	return g.reply(CancelResponse{ID: id, Status: "cancel_requested"})
}

func (g *grpcService) ListStrategyTypes(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	families := g.api.runs.Registry().List()
	out := make([]FamilyResponse, 0, len(families))
	for _, f := range families {
		out = append(out, familyResponse(f))
	}
	return g.reply(map[string]any{"strategy_types": out})
}

func (g *grpcService) WatchBacktest(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	err := g.api.watch(stream.Context(), idOf(in), func(m WatchMessage) error {
		msg, err := toStruct(m)
		if err != nil {
			return err
		}
		return stream.Send(msg)
	})
	if err != nil {
		return g.toStatus(err)
	}
	return nil
}

func (g *grpcService) reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, g.toStatus(err)
	}
	return out, nil
}

// toStatus maps an error kind to a gRPC status.
func (g *grpcService) toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidParameters):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, strategy.ErrShutdown):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
		g.api.log.Error("gRPC request failed", "error", err)
	}
	return status.Error(code, err.Error())
}

func idOf(in *structpb.Struct) string {
	return in.GetFields()["id"].GetStringValue()
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes in into v through its JSON encoding.
func fromStruct(in *structpb.Struct, v any) error {
	b, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		if errors.Is(err, domain.ErrInvalidParameters) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestServiceClient is the client API for the backtest service.
type BacktestServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestServiceClient wraps a client connection.
func NewBacktestServiceClient(cc grpc.ClientConnInterface) *BacktestServiceClient {
	return &BacktestServiceClient{cc: cc}
}

func (c *BacktestServiceClient) invoke(ctx context.Context, method string, in any, out any, opts ...grpc.CallOption) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BacktestServiceName+"/"+method, req, resp, opts...); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

// SubmitBacktest schedules a run and returns its PENDING result.
func (c *BacktestServiceClient) SubmitBacktest(ctx context.Context, req SubmitRequest, opts ...grpc.CallOption) (*domain.BacktestResult, error) {
	var out domain.BacktestResult
	if err := c.invoke(ctx, "SubmitBacktest", req, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBacktest returns a run's current result.
func (c *BacktestServiceClient) GetBacktest(ctx context.Context, id string, opts ...grpc.CallOption) (*domain.BacktestResult, error) {
	var out domain.BacktestResult
	if err := c.invoke(ctx, "GetBacktest", map[string]string{"id": id}, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBacktests returns run summaries, newest first.
func (c *BacktestServiceClient) ListBacktests(ctx context.Context, limit int, opts ...grpc.CallOption) (*ListResponse, error) {
	var out ListResponse
	if err := c.invoke(ctx, "ListBacktests", map[string]int{"limit": limit}, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBacktest requests cancellation of a run.
func (c *BacktestServiceClient) CancelBacktest(ctx context.Context, id string, opts ...grpc.CallOption) (*CancelResponse, error) {
	var out CancelResponse
	if err := c.invoke(ctx, "CancelBacktest", map[string]string{"id": id}, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStrategyTypes returns the registered strategy families.
func (c *BacktestServiceClient) ListStrategyTypes(ctx context.Context, opts ...grpc.CallOption) ([]FamilyResponse, error) {
	var out struct {
		StrategyTypes []FamilyResponse `json:"strategy_types"`
	}
	if err := c.invoke(ctx, "ListStrategyTypes", struct{}{}, &out, opts...); err != nil {
		return nil, err
	}
	return out.StrategyTypes, nil
}

// WatchBacktest streams the run's status frames until the final result.
// fn is called for every frame.
func (c *BacktestServiceClient) WatchBacktest(ctx context.Context, id string, fn func(WatchMessage) error, opts ...grpc.CallOption) error {
	req, err := toStruct(map[string]string{"id": id})
	if err != nil {
		return err
	}
	cs, err := c.cc.NewStream(ctx, &BacktestServiceDesc.Streams[0], "/"+BacktestServiceName+"/WatchBacktest", opts...)
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var m WatchMessage
		if err := fromStruct(msg, &m); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}
