package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// SendMethod is the unary method carrying one message as a Struct.
const SendMethod = "/lookout.v1.LiveProxy/Send"

type grpcBackend struct {
	endpoint string
	timeout  time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func newGRPCBackend(endpoint string, timeout time.Duration) *grpcBackend {
	return &grpcBackend{endpoint: endpoint, timeout: timeout}
}

func (b *grpcBackend) dial(ctx context.Context) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		b.endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "dial grpc %q", b.endpoint)
	}

	readyCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "wait for grpc readiness")
	}
	return conn, nil
}

func (b *grpcBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	b.conn = conn
	return nil
}

func (b *grpcBackend) RoundTrip(ctx context.Context, msg Message) (Reply, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return Reply{}, ErrNoSession
	}

	in, err := structpb.NewStruct(msg.fields())
	if err != nil {
		return Reply{}, errors.Wrapf(err, "encode %s message", msg.Type)
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, SendMethod, in, out); err != nil {
		return Reply{}, errors.Wrap(err, "invoke send")
	}

	return replyFromStruct(out), nil
}

func replyFromStruct(s *structpb.Struct) Reply {
	fields := s.GetFields()
	return Reply{
		Status:    fields["status"].GetStringValue(),
		Message:   fields["message"].GetStringValue(),
		Timestamp: int64(fields["timestamp"].GetNumberValue()),
		Error:     fields["error"].GetStringValue(),
	}
}

func (b *grpcBackend) Probe(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return errors.Wrap(err, "health check")
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.Errorf("health status %s", resp.GetStatus())
	}
	return nil
}

func (b *grpcBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// waitForReady blocks until gRPC connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
