package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Сервис описан вручную поверх well-known типов protobuf, без кодогенерации:
//
//	service RelayService {
//	  rpc Host(google.protobuf.Empty) returns (google.protobuf.StringValue);
//	  rpc Join(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	  rpc Send(google.protobuf.BytesValue) returns (google.protobuf.Empty);     // JSON {room_code, command}
//	  rpc Receive(google.protobuf.StringValue) returns (google.protobuf.BytesValue); // JSON-массив команд
//	  rpc Close(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	  rpc Info(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	  rpc Subscribe(google.protobuf.StringValue) returns (stream google.protobuf.BytesValue);
//	}
//
// Команды идут в исходных байтах JSON: через google.protobuf.Value они бы теряли
// точность чисел, порядок ключей и не пропускали бы часть допустимого JSON.
const ServiceName = "relay.v1.RelayService"

const (
	MethodHost      = "/" + ServiceName + "/Host"
	MethodJoin      = "/" + ServiceName + "/Join"
	MethodSend      = "/" + ServiceName + "/Send"
	MethodReceive   = "/" + ServiceName + "/Receive"
	MethodClose     = "/" + ServiceName + "/Close"
	MethodInfo      = "/" + ServiceName + "/Info"
	MethodSubscribe = "/" + ServiceName + "/Subscribe"
)

type RelayServer interface {
	Host(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Join(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Send(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Receive(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Close(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Info(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Subscribe(*wrapperspb.StringValue, SubscribeStream) error
}

type SubscribeStream interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Host", Handler: unary(MethodHost, func(s RelayServer, ctx context.Context, in *emptypb.Empty) (any, error) { return s.Host(ctx, in) })},
		{MethodName: "Join", Handler: unary(MethodJoin, func(s RelayServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) { return s.Join(ctx, in) })},
		{MethodName: "Send", Handler: unary(MethodSend, func(s RelayServer, ctx context.Context, in *wrapperspb.BytesValue) (any, error) { return s.Send(ctx, in) })},
		{MethodName: "Receive", Handler: unary(MethodReceive, func(s RelayServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) { return s.Receive(ctx, in) })},
		{MethodName: "Close", Handler: unary(MethodClose, func(s RelayServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) { return s.Close(ctx, in) })},
		{MethodName: "Info", Handler: unary(MethodInfo, func(s RelayServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) { return s.Info(ctx, in) })},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "relay/v1/relay.proto",
}

func Register(gs grpc.ServiceRegistrar, s RelayServer) {
	gs.RegisterService(&RelayServiceDesc, s)
}

// unary собирает grpc.MethodHandler для метода с запросом типа *Req.
func unary[Req any, PReq interface {
	*Req
}](fullMethod string, call func(RelayServer, context.Context, PReq) (any, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).Subscribe(in, &subscribeStream{stream})
}

type subscribeStream struct {
	grpc.ServerStream
}

func (x *subscribeStream) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}
