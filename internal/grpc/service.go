package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const (
	serviceName        = "gnss.v1.IntegrityService"
	methodGetStatus    = "/" + serviceName + "/GetStatus"
	methodStreamStatus = "/" + serviceName + "/StreamStatus"
)

type StatusRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Group     string  `json:"group,omitempty"`
}

type StreamRequest struct {
	Group    string `json:"group,omitempty"`
	MinLevel string `json:"min_level,omitempty"`
	// SendLatest replays the most recent status before live updates.
	SendLatest bool `json:"send_latest,omitempty"`
	// ChangesOnly streams a status only when its group's level changed.
	ChangesOnly bool `json:"changes_only,omitempty"`
}

// IntegrityServer is the server API for gnss.v1.IntegrityService.
type IntegrityServer interface {
	GetStatus(ctx context.Context, req *StatusRequest) (*models.RiskStatus, error)
	StreamStatus(req *StreamRequest, stream StatusStream) error
}

type StatusStream interface {
	Send(*models.RiskStatus) error
	grpc.ServerStream
}

type statusStream struct {
	grpc.ServerStream
}

func (s *statusStream) Send(m *models.RiskStatus) error {
	return s.ServerStream.SendMsg(m)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*IntegrityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamStatus", Handler: streamStatusHandler, ServerStreams: true},
	},
	Metadata: "gnss/v1/integrity.proto",
}

func RegisterIntegrityServer(s grpc.ServiceRegistrar, srv IntegrityServer) {
	s.RegisterService(&serviceDesc, srv)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntegrityServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntegrityServer).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamStatusHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(IntegrityServer).StreamStatus(in, &statusStream{stream})
}

// Client calls gnss.v1.IntegrityService using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetStatus(ctx context.Context, req *StatusRequest, opts ...grpc.CallOption) (*models.RiskStatus, error) {
	out := new(models.RiskStatus)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodGetStatus, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusReceiver yields statuses from a StreamStatus call until the server
// ends the stream or the context is cancelled.
type StatusReceiver struct {
	stream grpc.ClientStream
}

func (r *StatusReceiver) Recv() (*models.RiskStatus, error) {
	m := new(models.RiskStatus)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) StreamStatus(ctx context.Context, req *StreamRequest, opts ...grpc.CallOption) (*StatusReceiver, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodStreamStatus, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &StatusReceiver{stream: stream}, nil
}
