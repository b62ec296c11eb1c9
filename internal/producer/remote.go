package producer

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region wire
// ProduceMethod is the full gRPC method name served by a text service.
const ProduceMethod = "/metacog.TextService/Produce"

// Requests carry {"messages": [{"role","content"}...]}; replies carry {"text"}.
func encodeRequest(messages []Message) (*structpb.Struct, error) {
	list := make([]any, len(messages))
	for i, m := range messages {
		list[i] = map[string]any{"role": string(m.Role), "content": m.Content}
	}
	req, err := structpb.NewStruct(map[string]any{"messages": list})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return req, nil
}

func decodeRequest(req *structpb.Struct) []Message {
	raw := req.GetFields()["messages"].GetListValue().GetValues()
	out := make([]Message, 0, len(raw))
	for _, v := range raw {
		f := v.GetStructValue().GetFields()
		out = append(out, Message{
			Role:    Role(f["role"].GetStringValue()),
			Content: f["content"].GetStringValue(),
		})
	}
	return out
}

// #endregion wire

// #region client
// Remote calls a text service over gRPC.
type Remote struct {
	conn *grpc.ClientConn
}

// NewRemote connects to a text service. Extra dial options are appended after
// the insecure transport default.
func NewRemote(addr string, opts ...grpc.DialOption) (*Remote, error) {
	if addr == "" {
		return nil, errors.New("remote producer: empty address")
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Remote{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// ProduceText sends the prompt and returns the service's text.
func (r *Remote) ProduceText(ctx context.Context, messages []Message) (string, error) {
	req, err := encodeRequest(messages)
	if err != nil {
		return "", err
	}
	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, ProduceMethod, req, resp); err != nil {
		return "", fmt.Errorf("produce rpc: %w", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", errors.New("produce rpc: reply has no text field")
	}
	return text.GetStringValue(), nil
}

// #endregion client

// #region server
// RegisterTextService exposes p on s under ProduceMethod.
func RegisterTextService(s *grpc.Server, p TextProducer) {
	s.RegisterService(&textServiceDesc, p)
}

var textServiceDesc = grpc.ServiceDesc{
	ServiceName: "metacog.TextService",
	HandlerType: (*TextProducer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Produce",
		Handler:    produceHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "metacog/text_service",
}

func produceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := &structpb.Struct{}
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, in any) (any, error) {
		text, err := srv.(TextProducer).ProduceText(ctx, decodeRequest(in.(*structpb.Struct)))
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]any{"text": text})
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProduceMethod}
	return interceptor(ctx, req, info, call)
}

// #endregion server
