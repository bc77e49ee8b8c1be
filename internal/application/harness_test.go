package application_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

type harness struct {
	owners   *mockOwnerStore
	repos    *mockRepoStore
	commits  *mockCommitStore
	pulls    *mockPullStore
	branches *mockBranchStore
	tasks    *mockDispatcher
	service  *application.WebhookService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, vcfg application.VerifierConfig, ncfg application.NormalizerConfig) *harness {
	t.Helper()

	h := &harness{
		owners:   newMockOwnerStore(),
		repos:    newMockRepoStore(),
		commits:  newMockCommitStore(),
		pulls:    newMockPullStore(),
		branches: newMockBranchStore(),
		tasks:    &mockDispatcher{},
	}

	logger := discardLogger()
	state := application.NewStateMutator(h.owners, h.repos, h.commits, h.pulls, h.branches, logger)
	router, err := application.NewRouter(application.NewNormalizers(state, h.tasks, ncfg, logger)...)
	require.NoError(t, err)

	h.service = application.NewWebhookService(router, application.NewSignatureVerifier(vcfg), state, logger)
	return h
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// githubDelivery builds a signed GitHub delivery.
func githubDelivery(t *testing.T, service model.Service, event string, payload any) application.Delivery {
	t.Helper()
	body := mustJSON(t, payload)
	return application.Delivery{
		Service:    service,
		Event:      event,
		DeliveryID: "delivery-1",
		Signature:  sign(testWebhookSecret, body),
		Body:       body,
	}
}

func (h *harness) handle(t *testing.T, d application.Delivery) (application.Result, error) {
	t.Helper()
	return h.service.Handle(context.Background(), d)
}
