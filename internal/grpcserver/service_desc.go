package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "atelier.credit.v1.CreditService"

const (
	methodGetBalance  = "GetBalance"
	methodListBundles = "ListBundles"
	methodPurchase    = "Purchase"
	methodRedeem      = "Redeem"
	methodListHistory = "ListHistory"
)

// CreditServiceServer is the server contract. Messages are google.protobuf.Struct.
type CreditServiceServer interface {
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListBundles(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Purchase(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Redeem(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListHistory(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(server CreditServiceServer, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes CreditService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodGetBalance, CreditServiceServer.GetBalance),
		unaryMethod(methodListBundles, CreditServiceServer.ListBundles),
		unaryMethod(methodPurchase, CreditServiceServer.Purchase),
		unaryMethod(methodRedeem, CreditServiceServer.Redeem),
		unaryMethod(methodListHistory, CreditServiceServer.ListHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "atelier/credit/v1/credit.proto",
}

// RegisterCreditServiceServer attaches server to registrar.
func RegisterCreditServiceServer(registrar grpc.ServiceRegistrar, server CreditServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(server.(CreditServiceServer), ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
			handler := func(ctx context.Context, request any) (any, error) {
				return call(server.(CreditServiceServer), ctx, request.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// Client calls CreditService over a client connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// GetBalance returns {"account_id", "credits"}.
func (client *Client) GetBalance(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetBalance, request, options...)
}

// ListBundles returns {"bundles": [...]}.
func (client *Client) ListBundles(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodListBundles, request, options...)
}

// Purchase returns {"pin_code", "message", "transaction_id"}.
func (client *Client) Purchase(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodPurchase, request, options...)
}

// Redeem returns {"credits", "new_balance", "message"}.
func (client *Client) Redeem(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodRedeem, request, options...)
}

// ListHistory returns {"entries": [...]}.
func (client *Client) ListHistory(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodListHistory, request, options...)
}

func (client *Client) invoke(ctx context.Context, method string, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	if request == nil {
		request = &structpb.Struct{}
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, "/"+ServiceName+"/"+method, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}
