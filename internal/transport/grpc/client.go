package grpcx

import (
	"context"

	"github.com/cwrk-planet/command-relay/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client: тонкая обёртка над ClientConn для RelayService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Host(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodHost, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Join(ctx context.Context, code string) error {
	return c.cc.Invoke(ctx, MethodJoin, wrapperspb.String(code), new(emptypb.Empty))
}

// Send передаёт команду в исходных байтах; невалидный JSON отклонит сервер.
func (c *Client) Send(ctx context.Context, code string, cmd domain.Command) error {
	return c.cc.Invoke(ctx, MethodSend, wrapperspb.Bytes(encodeSend(code, cmd)), new(emptypb.Empty))
}

func (c *Client) Receive(ctx context.Context, code string) ([]domain.Command, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, MethodReceive, wrapperspb.String(code), out); err != nil {
		return nil, err
	}
	return decodeBatch(out.GetValue())
}

func (c *Client) Close(ctx context.Context, code string) error {
	return c.cc.Invoke(ctx, MethodClose, wrapperspb.String(code), new(emptypb.Empty))
}

func (c *Client) Info(ctx context.Context, code string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodInfo, wrapperspb.String(code), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Subscribe вызывает fn на каждую пачку, пока стрим не закончится или не вернётся ошибка.
func (c *Client) Subscribe(ctx context.Context, code string, fn func([]domain.Command) error) error {
	desc := &RelayServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, MethodSubscribe)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(code)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		batch := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(batch); err != nil {
			return err
		}
		cmds, err := decodeBatch(batch.GetValue())
		if err != nil {
			return err
		}
		if err := fn(cmds); err != nil {
			return err
		}
	}
}
