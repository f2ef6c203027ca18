package visualiser

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

const (
	trackServiceName   = "hypgraph.v1.TrackService"
	streamTracksMethod = "/" + trackServiceName + "/StreamTracks"
)

// TrackServiceServer is the server API for the track stream. Messages are
// google.protobuf.Struct so no generated stubs are needed.
type TrackServiceServer interface {
	StreamTracks(req *structpb.Struct, stream grpc.ServerStream) error
}

var trackServiceDesc = grpc.ServiceDesc{
	ServiceName: trackServiceName,
	HandlerType: (*TrackServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTracks",
			Handler:       streamTracksHandler,
			ServerStreams: true,
		},
	},
	Metadata: "hypgraph/v1/tracks.proto",
}

func streamTracksHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TrackServiceServer).StreamTracks(req, stream)
}

// RegisterTrackService registers srv on s.
func RegisterTrackService(s grpc.ServiceRegistrar, srv TrackServiceServer) {
	s.RegisterService(&trackServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ TrackServiceServer = (*Server)(nil)

// Server implements TrackService on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamTracks sends every published frame to the caller until it hangs up
// or the publisher stops.
func (s *Server) StreamTracks(req *structpb.Struct, stream grpc.ServerStream) error {
	opts, err := DecodeStreamOptions(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	client, err := s.publisher.addClient(opts)
	if err != nil {
		if errors.Is(err, ErrTooManyClients) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	log.Printf("[gRPC] StreamTracks started: client=%s min_node_count=%d", client.id, opts.MinNodeCount)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case frame := <-client.frameCh:
			if err := stream.SendMsg(EncodeFrame(opts.filter(frame))); err != nil {
				log.Printf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

// TrackClient is a thin client for TrackService.
type TrackClient struct {
	cc grpc.ClientConnInterface
}

// NewTrackClient wraps a client connection.
func NewTrackClient(cc grpc.ClientConnInterface) *TrackClient {
	return &TrackClient{cc: cc}
}

// StreamTracks opens a track stream.
func (c *TrackClient) StreamTracks(ctx context.Context, opts StreamOptions, callOpts ...grpc.CallOption) (*TrackStream, error) {
	stream, err := c.cc.NewStream(ctx, &trackServiceDesc.Streams[0], streamTracksMethod, callOpts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(opts.encode()); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TrackStream{stream: stream}, nil
}

// TrackStream receives frames from an open StreamTracks call.
type TrackStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame.
func (s *TrackStream) Recv() (l5tracks.TrackFrame, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return l5tracks.TrackFrame{}, err
	}
	return DecodeFrame(msg)
}
