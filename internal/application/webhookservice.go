package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// WebhookService runs a delivery through verification, repository
// resolution and routing.
type WebhookService struct {
	router   *Router
	verifier *SignatureVerifier
	state    *StateMutator
	logger   *slog.Logger
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(router *Router, verifier *SignatureVerifier, state *StateMutator, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		router:   router,
		verifier: verifier,
		state:    state,
		logger:   logger,
	}
}

// Handle processes one delivery. Skips and no-ops are returned as a Result;
// an error is returned only for authentication failures, forbidden events,
// malformed payloads and storage failures.
func (s *WebhookService) Handle(ctx context.Context, d Delivery) (Result, error) {
	log := s.logger.With("service", string(d.Service), "event", d.Event, "delivery", d.DeliveryID)

	norm, ok := s.router.Normalizer(d.Service)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", d.Service, driven.ErrUnsupportedService)
	}

	// GitHub signs the raw body, so it is checked before anything is parsed.
	if d.Service.Family() == model.ServiceGitHub {
		if err := s.verifier.VerifyGitHub(d); err != nil {
			log.Warn("webhook authentication failed", "error", err)
			return Result{}, err
		}
	}

	serviceID, err := norm.RepoServiceID(d.Event, d.Body)
	if err != nil {
		return Result{}, err
	}

	repo, err := s.state.ResolveRepository(ctx, d.Service, serviceID)
	if err != nil {
		return Result{}, err
	}

	switch d.Service {
	case model.ServiceGitLab, model.ServiceGitLabEnterprise:
		if err := s.verifier.VerifyGitLab(d, repo); err != nil {
			log.Warn("webhook authentication failed", "error", err)
			return Result{}, err
		}
	case model.ServiceBitbucket, model.ServiceBitbucketServer:
		if err := s.verifier.VerifyBitbucket(d, repo); err != nil {
			log.Warn("webhook hook uuid mismatch", "repo", repo.ID, "hook_uuid", d.HookUUID)
			return result(MsgUnknownHook), nil
		}
	}

	ev := &Event{Delivery: d, RepoServiceID: serviceID, Repo: repo}
	res, err := s.router.Dispatch(ctx, ev)

	var unresolved *UnresolvedRepositoryError
	switch {
	case err == nil:
		log.Debug("webhook handled", "result", res.Message)
		return res, nil
	case errors.Is(err, ErrUnknownEvent):
		log.Info("webhook event not handled")
		return result(MsgUnsupportedEvent), nil
	case errors.As(err, &unresolved):
		log.Warn("webhook for untracked repository", "error", err)
		return result(MsgUnknownRepository), nil
	case errors.Is(err, ErrStateConflict):
		log.Warn("webhook lost a write race", "error", err)
		return result(MsgSkipProcessing), nil
	default:
		return Result{}, err
	}
}
