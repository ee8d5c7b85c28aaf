package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const bookingServiceName = "crewbook.v1.BookingService"

// BookingServiceServer is the server side of crewbook.v1.BookingService.
// Requests and responses are google.protobuf.Struct documents.
type BookingServiceServer interface {
	ValidateNoOverlap(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTeams(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkSalesOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

type unaryMethod func(BookingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + bookingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ValidateNoOverlap", BookingServiceServer.ValidateNoOverlap),
		unaryHandler("GetAvailability", BookingServiceServer.GetAvailability),
		unaryHandler("ListTeams", BookingServiceServer.ListTeams),
		unaryHandler("CreateAppointment", BookingServiceServer.CreateAppointment),
		unaryHandler("GetAppointment", BookingServiceServer.GetAppointment),
		unaryHandler("SubmitAppointment", BookingServiceServer.SubmitAppointment),
		unaryHandler("CancelAppointment", BookingServiceServer.CancelAppointment),
		unaryHandler("LinkSalesOrder", BookingServiceServer.LinkSalesOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crewbook/v1/booking.proto",
}
