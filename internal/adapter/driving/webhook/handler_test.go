package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coverhook/internal/adapter/driving/webhook"
	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

type fakeProcessor struct {
	mu         sync.Mutex
	deliveries []application.Delivery
	result     application.Result
	err        error
}

func (p *fakeProcessor) Handle(_ context.Context, d application.Delivery) (application.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveries = append(p.deliveries, d)
	return p.result, p.err
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deliveries)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, p webhook.Processor, cfg webhook.Config) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	webhook.NewHandler(p, cfg, discardLogger()).Register(mux)
	return newHTTPServer(t, mux)
}

func newHTTPServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func post(t *testing.T, server *httptest.Server, service string, header map[string]string, body []byte) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, server.URL+"/webhooks/"+service, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestServeWebhook_DecodesProviderHeaders(t *testing.T) {
	tests := []struct {
		service string
		header  map[string]string
		want    application.Delivery
	}{
		{
			service: "github",
			header: map[string]string{
				"X-GitHub-Event":      "push",
				"X-Hub-Signature-256": "sha256=abc",
				"X-GitHub-Delivery":   "gh-1",
			},
			want: application.Delivery{Service: model.ServiceGitHub, Event: "push", Signature: "sha256=abc", DeliveryID: "gh-1"},
		},
		{
			service: "github_enterprise",
			header:  map[string]string{"X-GitHub-Event": "status", "X-GitHub-Delivery": "ghe-1"},
			want:    application.Delivery{Service: model.ServiceGitHubEnterprise, Event: "status", DeliveryID: "ghe-1"},
		},
		{
			service: "gitlab",
			header: map[string]string{
				"X-Gitlab-Event":      "Push Hook",
				"X-Gitlab-Token":      "tok",
				"X-Gitlab-Event-UUID": "gl-1",
			},
			want: application.Delivery{Service: model.ServiceGitLab, Event: "Push Hook", Token: "tok", DeliveryID: "gl-1"},
		},
		{
			service: "bitbucket",
			header: map[string]string{
				"X-Event-Key":    "repo:push",
				"X-Hook-UUID":    "{hook}",
				"X-Request-UUID": "bb-1",
			},
			want: application.Delivery{Service: model.ServiceBitbucket, Event: "repo:push", HookUUID: "{hook}", DeliveryID: "bb-1"},
		},
		{
			service: "bitbucket_server",
			header:  map[string]string{"X-Event-Key": "pr:opened", "X-Request-Id": "bbs-1"},
			want:    application.Delivery{Service: model.ServiceBitbucketServer, Event: "pr:opened", DeliveryID: "bbs-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			p := &fakeProcessor{result: application.Result{Message: application.MsgNotifyQueued}}
			server := newServer(t, p, webhook.Config{})

			resp, body := post(t, server, tt.service, tt.header, []byte(`{"x":1}`))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `"Notify queued"`, body)

			require.Len(t, p.deliveries, 1)
			got := p.deliveries[0]
			tt.want.Body = []byte(`{"x":1}`)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeWebhook_GeneratesMissingDeliveryID(t *testing.T) {
	p := &fakeProcessor{}
	server := newServer(t, p, webhook.Config{})

	post(t, server, "gitlab", map[string]string{"X-Gitlab-Event": "Push Hook"}, []byte(`{}`))
	post(t, server, "gitlab", map[string]string{"X-Gitlab-Event": "Push Hook"}, []byte(`{}`))

	require.Len(t, p.deliveries, 2)
	assert.Len(t, p.deliveries[0].DeliveryID, 36)
	assert.NotEqual(t, p.deliveries[0].DeliveryID, p.deliveries[1].DeliveryID)
}

func TestServeWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "authentication", err: &application.AuthenticationError{Service: model.ServiceGitHub, Reason: "bad signature"}, status: http.StatusForbidden},
		{name: "forbidden event", err: fmt.Errorf("system hook: %w", application.ErrEventForbidden), status: http.StatusForbidden},
		{name: "malformed payload", err: fmt.Errorf("decode: %w", application.ErrMalformedPayload), status: http.StatusBadRequest},
		{name: "unsupported service", err: driven.ErrUnsupportedService, status: http.StatusBadRequest},
		{name: "storage failure", err: errors.New("database is locked"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, &fakeProcessor{err: tt.err}, webhook.Config{})

			resp, body := post(t, server, "github", nil, []byte(`{}`))
			assert.Equal(t, tt.status, resp.StatusCode)

			var envelope map[string]string
			require.NoError(t, json.Unmarshal([]byte(body), &envelope))
			assert.NotEmpty(t, envelope["error"])
			assert.NotContains(t, envelope["error"], "database")
		})
	}
}

func TestServeWebhook_UnknownService(t *testing.T) {
	p := &fakeProcessor{}
	server := newServer(t, p, webhook.Config{})

	resp, body := post(t, server, "sourcehut", nil, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "unsupported service")
	assert.Zero(t, p.calls())
}

func TestServeWebhook_BodyLimit(t *testing.T) {
	p := &fakeProcessor{}
	mux := http.NewServeMux()
	webhook.NewHandler(p, webhook.Config{}, discardLogger()).Register(mux)

	body := strings.NewReader(`"` + strings.Repeat("a", webhook.MaxBodyBytes) + `"`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, p.calls())
}

func TestServeWebhook_RedeliveryIsProcessedAgain(t *testing.T) {
	p := &fakeProcessor{result: application.Result{Message: application.MsgNotifyQueued}}
	server := newServer(t, p, webhook.Config{})
	header := map[string]string{"X-GitHub-Event": "status", "X-GitHub-Delivery": "same-id"}

	for range 3 {
		resp, body := post(t, server, "github", header, []byte(`{}`))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `"Notify queued"`, body)
	}
	assert.Equal(t, 3, p.calls())
}

func TestServeWebhook_ReusedDeliveryIDStillFailsAuthentication(t *testing.T) {
	p := &fakeProcessor{result: application.Result{Message: application.MsgNotifyQueued}}
	server := newServer(t, p, webhook.Config{})
	header := map[string]string{"X-GitHub-Event": "status", "X-GitHub-Delivery": "d-1"}

	resp, _ := post(t, server, "github", header, []byte(`{}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p.mu.Lock()
	p.err = &application.AuthenticationError{Service: model.ServiceGitHub, Reason: "signature mismatch"}
	p.mu.Unlock()

	resp, _ = post(t, server, "github", header, []byte(`{"forged":true}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 2, p.calls())
}

func TestServeWebhook_RateLimitPerServiceAndSource(t *testing.T) {
	p := &fakeProcessor{}
	server := newServer(t, p, webhook.Config{RateLimit: 1, RateBurst: 2})

	statuses := make([]int, 0, 3)
	for range 3 {
		resp, _ := post(t, server, "gitlab", nil, []byte(`{}`))
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
	assert.Equal(t, 2, p.calls())

	// Buckets are per service.
	resp, _ := post(t, server, "bitbucket", nil, []byte(`{}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
