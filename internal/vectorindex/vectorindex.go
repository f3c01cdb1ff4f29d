// Package vectorindex wraps the Qdrant gRPC client for session and document
// points. All writes and searches are tenant-scoped and fail closed: a
// missing tenant id is an error at the call site, never defaulted.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/logging"
)

var (
	// ErrInvalidConfig indicates a bad index configuration.
	ErrInvalidConfig = errors.New("vectorindex: invalid config")
	// ErrConnectionFailed indicates the gRPC client could not connect.
	ErrConnectionFailed = errors.New("vectorindex: connection failed")
	// ErrMissingTenant indicates a write or search without a tenant id.
	ErrMissingTenant = errors.New("vectorindex: missing tenant id")
	// ErrCircuitOpen indicates too many consecutive upstream failures.
	ErrCircuitOpen = errors.New("vectorindex: circuit breaker open")
)

// collectionNamePattern rejects anything that could smuggle path or query
// syntax into a collection name.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Source types carried in point payloads.
const (
	SourceChat     = "chat"
	SourceDocument = "document"
)

// Index is the shared Qdrant handle. Safe for concurrent use.
type Index struct {
	client  *qdrant.Client
	cfg     config.VectorConfig
	logger  *logging.Logger
	breaker *circuitBreaker
}

// New connects and health-checks the index.
func New(ctx context.Context, cfg config.VectorConfig, logger *logging.Logger) (*Index, error) {
	for _, name := range []string{cfg.Collection, cfg.HybridCollection, cfg.DMCollection} {
		if !collectionNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
		}
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(50 * 1024 * 1024),
				grpc.MaxCallSendMsgSize(50 * 1024 * 1024),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &Index{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("vectorindex"),
		breaker: newCircuitBreaker(5, 30*time.Second),
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return idx, nil
}

// Close closes the gRPC connection.
func (x *Index) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

// IsTransientError reports whether the gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded,
		grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	default:
		return false
	}
}

// retry runs op with exponential backoff for transient errors, feeding the
// circuit breaker on the way.
func (x *Index) retry(ctx context.Context, name string, op func() error) error {
	if !x.breaker.Allow() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil {
		x.breaker.RecordFailure()
		return fmt.Errorf("%s failed: %w", name, err)
	}
	x.breaker.RecordSuccess()
	return nil
}
