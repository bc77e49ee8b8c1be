package application_test

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // used to build a rejected legacy signature
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

const testWebhookSecret = "testixik8qdauiab1yiffydimvi72ekq"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHub_KnownVector(t *testing.T) {
	v := application.NewSignatureVerifier(application.VerifierConfig{GitHubSecret: testWebhookSecret})
	body := []byte(`{"a":1}`)

	err := v.VerifyGitHub(application.Delivery{
		Service:   model.ServiceGitHub,
		Signature: sign(testWebhookSecret, body),
		Body:      body,
	})
	require.NoError(t, err)
}

func TestVerifyGitHub_AnyByteMutationFails(t *testing.T) {
	v := application.NewSignatureVerifier(application.VerifierConfig{GitHubSecret: testWebhookSecret})
	body := []byte(`{"a":1}`)
	signature := sign(testWebhookSecret, body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01

		err := v.VerifyGitHub(application.Delivery{
			Service:   model.ServiceGitHub,
			Signature: signature,
			Body:      mutated,
		})

		var authErr *application.AuthenticationError
		require.ErrorAs(t, err, &authErr, "mutation at byte %d must fail", i)
	}
}

func TestVerifyGitHub_Rejections(t *testing.T) {
	body := []byte(`{"a":1}`)
	legacy := hmac.New(sha1.New, []byte(testWebhookSecret))
	legacy.Write(body)

	tests := []struct {
		name      string
		cfg       application.VerifierConfig
		service   model.Service
		signature string
	}{
		{
			name:      "no secret configured",
			service:   model.ServiceGitHub,
			signature: sign(testWebhookSecret, body),
		},
		{
			name:      "missing header",
			cfg:       application.VerifierConfig{GitHubSecret: testWebhookSecret},
			service:   model.ServiceGitHub,
			signature: "",
		},
		{
			name:      "sha1 signature",
			cfg:       application.VerifierConfig{GitHubSecret: testWebhookSecret},
			service:   model.ServiceGitHub,
			signature: "sha1=" + hex.EncodeToString(legacy.Sum(nil)),
		},
		{
			name:      "wrong secret",
			cfg:       application.VerifierConfig{GitHubSecret: testWebhookSecret},
			service:   model.ServiceGitHub,
			signature: sign("another-secret", body),
		},
		{
			name:      "enterprise uses its own secret",
			cfg:       application.VerifierConfig{GitHubSecret: testWebhookSecret, GitHubEnterpriseSecret: "ghe-secret"},
			service:   model.ServiceGitHubEnterprise,
			signature: sign(testWebhookSecret, body),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := application.NewSignatureVerifier(tt.cfg)
			err := v.VerifyGitHub(application.Delivery{Service: tt.service, Signature: tt.signature, Body: body})

			var authErr *application.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.service, authErr.Service)
		})
	}
}

func TestVerifyGitLab(t *testing.T) {
	secret := "s3cret"
	withSecret := &model.Repository{WebhookSecret: &secret}
	noSecret := &model.Repository{}

	tests := []struct {
		name    string
		cfg     application.VerifierConfig
		service model.Service
		repo    *model.Repository
		token   string
		wantErr bool
	}{
		{name: "no secret, not forced", repo: noSecret, token: "", wantErr: false},
		{name: "unknown repo, not forced", repo: nil, token: "anything", wantErr: false},
		{name: "matching token", repo: withSecret, token: secret, wantErr: false},
		{name: "mismatched token", repo: withSecret, token: "nope", wantErr: true},
		{name: "empty token with secret", repo: withSecret, token: "", wantErr: true},
		{
			name:    "forced without secret rejects empty token",
			cfg:     application.VerifierConfig{GitLabForceValidation: true},
			repo:    noSecret,
			token:   "",
			wantErr: true,
		},
		{
			name:    "forced without secret rejects any token",
			cfg:     application.VerifierConfig{GitLabForceValidation: true},
			repo:    noSecret,
			token:   "guess",
			wantErr: true,
		},
		{
			name:    "forced with matching secret",
			cfg:     application.VerifierConfig{GitLabForceValidation: true},
			repo:    withSecret,
			token:   secret,
			wantErr: false,
		},
		{
			name:    "enterprise flag is independent",
			cfg:     application.VerifierConfig{GitLabForceValidation: true},
			service: model.ServiceGitLabEnterprise,
			repo:    noSecret,
			wantErr: false,
		},
		{
			name:    "enterprise forced",
			cfg:     application.VerifierConfig{GitLabEnterpriseForceValidation: true},
			service: model.ServiceGitLabEnterprise,
			repo:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := tt.service
			if service == "" {
				service = model.ServiceGitLab
			}
			v := application.NewSignatureVerifier(tt.cfg)
			err := v.VerifyGitLab(application.Delivery{Service: service, Token: tt.token}, tt.repo)
			if tt.wantErr {
				var authErr *application.AuthenticationError
				assert.ErrorAs(t, err, &authErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifyBitbucket(t *testing.T) {
	v := application.NewSignatureVerifier(application.VerifierConfig{})
	repo := &model.Repository{HookID: "f2e634c1-63db-44ac-b119-019fa6a71a2c"}

	tests := []struct {
		name    string
		repo    *model.Repository
		header  string
		wantErr bool
	}{
		{name: "exact match", repo: repo, header: "f2e634c1-63db-44ac-b119-019fa6a71a2c"},
		{name: "braces and case", repo: repo, header: "{F2E634C1-63DB-44AC-B119-019FA6A71A2C}"},
		{name: "mismatch", repo: repo, header: "00000000-0000-0000-0000-000000000000", wantErr: true},
		{name: "missing header", repo: repo, header: "", wantErr: true},
		{name: "no registered hook", repo: &model.Repository{}, header: "whatever"},
		{name: "unknown repo", repo: nil, header: "whatever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.VerifyBitbucket(application.Delivery{Service: model.ServiceBitbucket, HookUUID: tt.header}, tt.repo)
			if tt.wantErr {
				assert.True(t, errors.Is(err, application.ErrUnknownHook))
				return
			}
			assert.NoError(t, err)
		})
	}
}
