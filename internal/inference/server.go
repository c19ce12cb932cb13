package inference

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cartridge/geese/internal/metrics"
	"github.com/cartridge/geese/internal/model"
)

const (
	serviceName = "geese.inference.v1.Inference"

	// PredictMethod is the full gRPC method name of Predict.
	PredictMethod = "/" + serviceName + "/Predict"
)

// PredictServer is the server API of the inference service. Requests carry
// an EncodeBatch payload and responses an EncodePrediction payload.
type PredictServer interface {
	Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PredictServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    predictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geese/inference/v1/inference.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PredictMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PredictServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv PredictServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server answers Predict calls with a local model.
type Server struct {
	predictor model.Predictor
	metrics   *metrics.Collector
}

// NewServer creates an inference server around predictor.
func NewServer(predictor model.Predictor, collector *metrics.Collector) *Server {
	return &Server{predictor: predictor, metrics: collector}
}

// Predict implements PredictServer.
func (s *Server) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	batch, err := DecodeBatch(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	probs, values, err := s.predictor.Predict(ctx, batch)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "prediction failed: %v", err)
	}
	s.metrics.InferenceBatch(len(batch), time.Since(start))

	return wrapperspb.Bytes(EncodePrediction(probs, values)), nil
}

// LoggingInterceptor logs every unary call with its latency and outcome.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Str("code", status.Code(err).String()).
			Msg("gRPC request")

		return resp, err
	}
}
