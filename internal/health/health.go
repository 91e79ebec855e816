// Package health exposes the gRPC health service for the execution authority.
package health

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trading-authority/internal/domain"
	"trading-authority/internal/events"
	"trading-authority/pkg/logging"
)

// Service is the health service name clients should ask for.
const Service = "trading-authority.execution"

// StatusReader yields the latest committed status snapshot.
type StatusReader interface {
	Status(ctx context.Context) (domain.StatusSnapshot, error)
}

// Server reports NOT_SERVING for Service until the system is configured.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	status StatusReader
	bus    *events.Bus
	logger zerolog.Logger
}

// New builds the gRPC server and registers the health service on it.
func New(status StatusReader, bus *events.Bus, logger zerolog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		status: status,
		bus:    bus,
		logger: logging.Component(logger, "health"),
	}
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Sync sets the serving status from the current snapshot.
func (s *Server) Sync(ctx context.Context) error {
	snap, err := s.status.Status(ctx)
	if err != nil {
		return err
	}
	s.apply(snap)
	return nil
}

func (s *Server) apply(snap domain.StatusSnapshot) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if snap.IsConfigured {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, st)
	s.logger.Debug().Str("service", Service).Str("status", st.String()).Msg("health updated")
}

// Watch follows onboarding and reset events until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	onboarded, unsubOn := s.bus.Subscribe(events.EventSystemOnboarded, 4)
	reset, unsubReset := s.bus.Subscribe(events.EventSystemReset, 4)
	go func() {
		defer unsubOn()
		defer unsubReset()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-onboarded:
				if !ok {
					return
				}
				s.onEvent(p)
			case p, ok := <-reset:
				if !ok {
					return
				}
				s.onEvent(p)
			}
		}
	}()
}

func (s *Server) onEvent(payload any) {
	if ev, ok := payload.(events.StatusChanged); ok {
		s.apply(ev.Status)
	}
}

// Check answers a health request in-process.
func (s *Server) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	res, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}

// Serve blocks serving gRPC on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
