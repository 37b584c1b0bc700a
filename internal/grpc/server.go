package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
	"github.com/mr1hm/gnss-integrity-monitor/internal/orchestrator"
	"github.com/mr1hm/gnss-integrity-monitor/internal/repository"
)

// StatusEvaluator is satisfied by *orchestrator.Orchestrator.
type StatusEvaluator interface {
	Status(ctx context.Context, req orchestrator.Request) models.RiskStatus
}

type Server struct {
	evaluator    StatusEvaluator
	repo         repository.StatusRepository
	broadcaster  *Broadcaster
	defaultGroup models.ConstellationGroup
	grpcServer   *grpc.Server
}

// NewServer builds the service. repo may be nil, in which case streams
// cannot replay the latest status.
func NewServer(evaluator StatusEvaluator, repo repository.StatusRepository, broadcaster *Broadcaster, defaultGroup models.ConstellationGroup, opts ...grpc.ServerOption) *Server {
	s := &Server{
		evaluator:    evaluator,
		repo:         repo,
		broadcaster:  broadcaster,
		defaultGroup: defaultGroup,
		grpcServer:   grpc.NewServer(opts...),
	}
	RegisterIntegrityServer(s.grpcServer, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) group(name string) (models.ConstellationGroup, error) {
	if name == "" {
		return s.defaultGroup, nil
	}
	g, ok := models.ParseGroup(name)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "unknown constellation group %q", name)
	}
	return g, nil
}

func (s *Server) GetStatus(ctx context.Context, req *StatusRequest) (*models.RiskStatus, error) {
	observer := models.ObserverPosition{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Altitude:  req.Altitude,
	}
	if err := observer.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	group, err := s.group(req.Group)
	if err != nil {
		return nil, err
	}

	st := s.evaluator.Status(ctx, orchestrator.Request{Observer: observer, Group: group})
	return &st, nil
}

func (s *Server) StreamStatus(req *StreamRequest, stream StatusStream) error {
	filter := Filter{ChangesOnly: req.ChangesOnly}
	if req.Group != "" {
		g, err := s.group(req.Group)
		if err != nil {
			return err
		}
		filter.Group = g
	}
	if req.MinLevel != "" {
		l, ok := models.ParseRiskLevel(strings.ToUpper(req.MinLevel))
		if !ok {
			return status.Errorf(codes.InvalidArgument, "unknown level %q", req.MinLevel)
		}
		filter.MinLevel = l
	}

	id, ch := s.broadcaster.Subscribe(filter)
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to status stream", "subscriber_id", id, "group", filter.Group,
		"min_level", filter.MinLevel, "changes_only", filter.ChangesOnly)

	var replayed *models.RiskStatus
	if req.SendLatest {
		latest := s.latest(stream.Context(), id, filter.Group)
		if latest != nil && filter.Matches(latest) {
			if err := stream.Send(latest); err != nil {
				return err
			}
			replayed = latest
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from status stream", "subscriber_id", id)
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if replayed != nil && st.ID == replayed.ID {
				continue
			}
			if err := stream.Send(st); err != nil {
				slog.Error("failed to send status to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

// latest finds the status to replay for group, the default group when empty:
// the recorded one when a repository is wired, else the last broadcast.
func (s *Server) latest(ctx context.Context, id uint64, group models.ConstellationGroup) *models.RiskStatus {
	if group == "" {
		group = s.defaultGroup
	}
	if s.repo != nil {
		st, err := s.repo.Latest(ctx, group)
		switch {
		case err == nil:
			return st
		case !errors.Is(err, repository.ErrNotFound):
			slog.Error("failed to load latest status", "error", err, "subscriber_id", id)
		}
	}
	st, _ := s.broadcaster.Latest(group)
	return st
}
