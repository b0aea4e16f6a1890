package handler

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/provisioning/domain"
	"lab-access/backend/internal/provisioning/service"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "labaccess.provisioning.v1.ProvisioningService"
	// ProvisionMethod is the full method name of Provision.
	ProvisionMethod = "/" + ServiceName + "/Provision"
	// ErrorDomain is the ErrorInfo domain attached to error statuses.
	ErrorDomain = "provisioning.labaccess"
)

// Request and response field names.
const (
	FieldName            = "name"
	FieldLoginID         = "loginId"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldRole            = "role"
	FieldAccountKey      = "uid"
)

// Provisioner runs the provisioning workflow.
type Provisioner interface {
	Provision(ctx context.Context, form domain.RawInput) (*domain.Result, error)
}

// ProvisioningServer is the server API for ProvisioningService.
type ProvisioningServer interface {
	Provision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server implements ProvisioningService.
type Server struct {
	svc Provisioner
}

// NewServer returns a ProvisioningService server. If svc is nil, Provision returns Unimplemented.
func NewServer(svc Provisioner) *Server {
	return &Server{svc: svc}
}

// Provision creates an account from the signup form carried in req.
func (s *Server) Provision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method Provision not implemented")
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	res, err := s.svc.Provision(ctx, formFromStruct(req))
	if err != nil {
		return nil, provisionErr(err)
	}
	return structpb.NewStruct(map[string]any{
		FieldLoginID:    res.Identifier,
		FieldAccountKey: res.AccountKey,
		FieldRole:       string(res.Role),
		FieldName:       res.DisplayName,
		FieldEmail:      res.Email,
	})
}

func formFromStruct(req *structpb.Struct) domain.RawInput {
	f := req.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }
	return domain.RawInput{
		Name:       str(FieldName),
		Identifier: str(FieldLoginID),
		Email:      str(FieldEmail),
		Secret:     str(FieldPassword),
		Confirm:    str(FieldConfirmPassword),
		Role:       str(FieldRole),
	}
}

// provisionErr maps workflow errors to gRPC status with an ErrorInfo detail.
func provisionErr(err error) error {
	var perr *service.Error
	if !errors.As(err, &perr) {
		return status.Error(codes.Internal, "signup failed")
	}
	code, reason := codes.Internal, "SIGNUP_FAILED"
	switch {
	case errors.Is(err, service.ErrValidation):
		code, reason = codes.InvalidArgument, "VALIDATION_"+screaming(perr.Reason)
	case errors.Is(err, service.ErrIdentifierTaken):
		code, reason = codes.AlreadyExists, "IDENTIFIER_TAKEN"
	case errors.Is(err, service.ErrUniquenessCheck):
		code, reason = codes.Unavailable, "UNIQUENESS_CHECK_FAILED"
	case errors.Is(err, service.ErrRoleAdmission):
		code, reason = codes.Unavailable, "ROLE_ADMISSION_FAILED"
	case errors.Is(err, service.ErrPrincipalCreation):
		reason = "PRINCIPAL_" + screaming(perr.Reason)
		switch principal.ErrorKind(perr.Reason) {
		case principal.KindEmailInUse:
			code = codes.AlreadyExists
		case principal.KindInvalidEmail, principal.KindWeakSecret:
			code = codes.InvalidArgument
		case principal.KindOperationDisabled:
			code = codes.FailedPrecondition
		default:
			code = codes.Unavailable
		}
	case errors.Is(err, service.ErrProfileWrite):
		reason = "PROFILE_WRITE_FAILED"
	case errors.Is(err, service.ErrRegistryWrite):
		reason = "REGISTRY_WRITE_FAILED"
	}
	st := status.New(code, perr.Message())
	info := &errdetails.ErrorInfo{
		Reason: reason,
		Domain: ErrorDomain,
		Metadata: map[string]string{
			"stage": string(perr.Stage),
		},
	}
	if perr.Identifier != "" {
		info.Metadata["loginId"] = perr.Identifier
	}
	if perr.Partial() {
		info.Metadata["partial"] = "true"
	}
	if withDetails, derr := st.WithDetails(info); derr == nil {
		st = withDetails
	}
	return st.Err()
}

// screaming converts CamelCase to SCREAMING_SNAKE_CASE.
func screaming(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func provisionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProvisioningServer).Provision(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProvisionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProvisioningServer).Provision(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for ProvisioningService. Messages are
// google.protobuf.Struct on both sides.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProvisioningServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Provision", Handler: provisionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "labaccess/provisioning/v1/provisioning.proto",
}

// RegisterProvisioningServiceServer registers srv with s.
func RegisterProvisioningServiceServer(s grpc.ServiceRegistrar, srv ProvisioningServer) {
	s.RegisterService(&ServiceDesc, srv)
}
