package posestream

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fieldpose/internal/estimator"
)

const (
	serviceName      = "fieldpose.PoseStream"
	streamMethodName = "StreamEstimates"

	// StreamEstimatesMethod is the full gRPC method name.
	StreamEstimatesMethod = "/" + serviceName + "/" + streamMethodName
)

var errTooManyClients = errors.New("too many stream clients")

// PoseStreamServer is the server side of fieldpose.PoseStream.
//
//	service PoseStream {
//	  rpc StreamEstimates(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
//
// The request may set "strategy" to only receive estimates produced by that
// strategy.
type PoseStreamServer interface {
	StreamEstimates(*structpb.Struct, EstimateSender) error
}

// EstimateSender is the server half of a StreamEstimates call.
type EstimateSender interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

var poseStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PoseStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamMethodName,
			Handler:       streamEstimatesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fieldpose/posestream.proto",
}

// RegisterPoseStreamServer registers srv on s.
func RegisterPoseStreamServer(s grpc.ServiceRegistrar, srv PoseStreamServer) {
	s.RegisterService(&poseStreamServiceDesc, srv)
}

type estimateSender struct {
	grpc.ServerStream
}

func (s estimateSender) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func streamEstimatesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PoseStreamServer).StreamEstimates(req, estimateSender{stream})
}

// server adapts a Publisher to PoseStreamServer.
type server struct {
	publisher *Publisher
}

func (s *server) StreamEstimates(req *structpb.Struct, stream EstimateSender) error {
	filter, err := strategyFilter(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	client, err := s.publisher.addClient(filter)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case u := <-client.ch:
			msg, err := EncodeUpdate(u)
			if err != nil {
				logf("encode estimate %d: %v", u.Sequence, err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func strategyFilter(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()["strategy"]
	if !ok {
		return "", nil
	}
	name := strings.TrimSpace(v.GetStringValue())
	if name == "" {
		return "", nil
	}
	s, err := estimator.ParseStrategy(name)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

// Client is a minimal PoseStream client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// EstimateStream is the client half of a StreamEstimates call.
type EstimateStream struct {
	stream grpc.ClientStream
}

// StreamEstimates opens a stream. An empty strategy receives every estimate.
func (c *Client) StreamEstimates(ctx context.Context, strategy string, opts ...grpc.CallOption) (*EstimateStream, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"strategy": strategy})
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &poseStreamServiceDesc.Streams[0], StreamEstimatesMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EstimateStream{stream: stream}, nil
}

// Recv blocks for the next estimate.
func (s *EstimateStream) Recv() (Update, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Update{}, err
	}
	return DecodeUpdate(msg)
}
