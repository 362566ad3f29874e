package seal

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// KeyServerServer is the server API for the KeyServer gRPC service.
//
// Messages are protobuf well-known Struct values so no codegen step is
// needed. Byte fields travel base64 encoded.
type KeyServerServer interface {
	FetchShare(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

const fetchShareMethod = "/sealgate.keyserver.v1.KeyServer/FetchShare"

// RegisterKeyServerServer registers the KeyServer service on a gRPC server.
func RegisterKeyServerServer(s grpc.ServiceRegistrar, srv KeyServerServer) {
	s.RegisterService(&KeyServer_ServiceDesc, srv)
}

func _KeyServer_FetchShare_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyServerServer).FetchShare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchShareMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyServerServer).FetchShare(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// KeyServer_ServiceDesc is the grpc.ServiceDesc for the KeyServer service.
var KeyServer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sealgate.keyserver.v1.KeyServer",
	HandlerType: (*KeyServerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchShare", Handler: _KeyServer_FetchShare_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyserver.proto",
}

// GRPCServer exposes a set of key servers, addressed by server id, over gRPC.
type GRPCServer struct {
	servers map[string]KeyServer
}

// NewGRPCServer serves the given key servers keyed by server id.
func NewGRPCServer(servers map[string]KeyServer) *GRPCServer {
	return &GRPCServer{servers: servers}
}

func (s *GRPCServer) FetchShare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	serverID, req, err := decodeShareRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ks, ok := s.servers[serverID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown key server %s", serverID)
	}
	sealed, err := ks.FetchShare(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"share": base64.StdEncoding.EncodeToString(sealed)})
}

// RemoteKeyServer reaches one key server through a KeyServer gRPC endpoint.
type RemoteKeyServer struct {
	cc       grpc.ClientConnInterface
	serverID string

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ KeyServer = (*RemoteKeyServer)(nil)

// NewRemoteKeyServer addresses serverID on an existing connection.
func NewRemoteKeyServer(cc grpc.ClientConnInterface, serverID string) *RemoteKeyServer {
	return &RemoteKeyServer{cc: cc, serverID: serverID}
}

// Dial opens a plaintext gRPC connection to a key server endpoint.
func Dial(target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (r *RemoteKeyServer) FetchShare(ctx context.Context, req ShareRequest) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	in, err := encodeShareRequest(r.serverID, req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, fetchShareMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	share, err := base64.StdEncoding.DecodeString(out.GetFields()["share"].GetStringValue())
	if err != nil || len(share) == 0 {
		return nil, errs.New(errs.ServiceUnavailable, "key server %s returned a malformed share", r.serverID)
	}
	return share, nil
}

func encodeShareRequest(serverID string, req ShareRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"server_id":    serverID,
		"package_id":   req.PackageID,
		"policy_id":    req.PolicyID,
		"sealed_share": base64.StdEncoding.EncodeToString(req.SealedShare),
		"viewer":       req.Proof.Viewer.String(),
		"grant_id":     req.Proof.GrantID,
		"response_key": base64.StdEncoding.EncodeToString(req.ResponseKey[:]),
	})
}

func decodeShareRequest(in *structpb.Struct) (string, ShareRequest, error) {
	fields := in.GetFields()
	str := func(name string) string { return fields[name].GetStringValue() }

	sealed, err := base64.StdEncoding.DecodeString(str("sealed_share"))
	if err != nil {
		return "", ShareRequest{}, fmt.Errorf("sealed_share: %w", err)
	}
	respKey, err := base64.StdEncoding.DecodeString(str("response_key"))
	if err != nil || len(respKey) != 32 {
		return "", ShareRequest{}, fmt.Errorf("response_key must be 32 bytes")
	}
	viewer, err := models.ParseAddress(str("viewer"))
	if err != nil {
		return "", ShareRequest{}, err
	}

	req := ShareRequest{
		PackageID:   str("package_id"),
		PolicyID:    str("policy_id"),
		SealedShare: sealed,
		Proof:       Proof{Viewer: viewer, GrantID: str("grant_id")},
	}
	copy(req.ResponseKey[:], respKey)
	return str("server_id"), req, nil
}

func toStatus(err error) error {
	switch errs.KindOf(err) {
	case errs.AccessDenied:
		return status.Error(codes.PermissionDenied, err.Error())
	case errs.ServiceUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	case errs.InvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errs.Wrap(errs.ServiceUnavailable, err)
	}
	switch st.Code() {
	case codes.PermissionDenied:
		return errs.New(errs.AccessDenied, "%s", st.Message())
	case codes.InvalidArgument:
		return errs.New(errs.InvalidInput, "%s", st.Message())
	default:
		return errs.New(errs.ServiceUnavailable, "key server: %s", st.Message())
	}
}
