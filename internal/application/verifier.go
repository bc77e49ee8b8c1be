package application

import (
	"crypto/subtle"
	"strings"

	gh "github.com/google/go-github/v82/github"
	"github.com/google/uuid"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

const sha256Prefix = "sha256="

// VerifierConfig holds the webhook authentication settings.
type VerifierConfig struct {
	GitHubSecret           string
	GitHubEnterpriseSecret string
	// GitLab validation is enforced for every delivery when set, even for
	// repositories without a webhook secret.
	GitLabForceValidation           bool
	GitLabEnterpriseForceValidation bool
}

// SignatureVerifier authenticates inbound deliveries per provider.
type SignatureVerifier struct {
	cfg VerifierConfig
}

// NewSignatureVerifier creates a SignatureVerifier.
func NewSignatureVerifier(cfg VerifierConfig) *SignatureVerifier {
	return &SignatureVerifier{cfg: cfg}
}

// VerifyGitHub checks the X-Hub-Signature-256 header against the HMAC-SHA256
// of the raw body. Only sha256 signatures are accepted.
func (v *SignatureVerifier) VerifyGitHub(d Delivery) error {
	secret := v.cfg.GitHubSecret
	if d.Service == model.ServiceGitHubEnterprise {
		secret = v.cfg.GitHubEnterpriseSecret
	}
	if secret == "" {
		return &AuthenticationError{Service: d.Service, Reason: "webhook secret not configured"}
	}
	if !strings.HasPrefix(d.Signature, sha256Prefix) {
		return &AuthenticationError{Service: d.Service, Reason: "missing sha256 signature"}
	}
	if err := gh.ValidateSignature(d.Signature, d.Body, []byte(secret)); err != nil {
		return &AuthenticationError{Service: d.Service, Reason: "signature mismatch"}
	}
	return nil
}

// VerifyGitLab checks the X-Gitlab-Token header. The token is required when
// the repository has a webhook secret or validation is forced for the
// service; forced validation without a stored secret rejects every token.
func (v *SignatureVerifier) VerifyGitLab(d Delivery, repo *model.Repository) error {
	forced := v.cfg.GitLabForceValidation
	if d.Service == model.ServiceGitLabEnterprise {
		forced = v.cfg.GitLabEnterpriseForceValidation
	}

	hasSecret := repo != nil && repo.HasWebhookSecret()
	if !hasSecret {
		if forced {
			return &AuthenticationError{Service: d.Service, Reason: "no webhook secret to validate against"}
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(d.Token), []byte(*repo.WebhookSecret)) != 1 {
		return &AuthenticationError{Service: d.Service, Reason: "token mismatch"}
	}
	return nil
}

// VerifyBitbucket checks the X-Hook-UUID header against the hook registered
// for the repository. Repositories without a registered hook accept any
// delivery.
func (v *SignatureVerifier) VerifyBitbucket(d Delivery, repo *model.Repository) error {
	if repo == nil || repo.HookID == "" {
		return nil
	}
	if normalizeUUID(d.HookUUID) != normalizeUUID(repo.HookID) {
		return ErrUnknownHook
	}
	return nil
}

// normalizeUUID strips braces and folds case so "{ABC-...}" and "abc-..."
// compare equal. Non-UUID values are only trimmed.
func normalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return strings.ToLower(strings.Trim(s, "{}"))
}
