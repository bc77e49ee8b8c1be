package model

import "fmt"

// Service identifies a source-control provider an Owner or Repository lives on.
type Service string

const (
	ServiceGitHub           Service = "github"
	ServiceGitHubEnterprise Service = "github_enterprise"
	ServiceGitLab           Service = "gitlab"
	ServiceGitLabEnterprise Service = "gitlab_enterprise"
	ServiceBitbucket        Service = "bitbucket"
	ServiceBitbucketServer  Service = "bitbucket_server"
)

// Services lists every supported provider in a stable order.
var Services = []Service{
	ServiceGitHub,
	ServiceGitHubEnterprise,
	ServiceGitLab,
	ServiceGitLabEnterprise,
	ServiceBitbucket,
	ServiceBitbucketServer,
}

// ParseService converts a raw service name into a Service, rejecting unknown names.
func ParseService(s string) (Service, error) {
	svc := Service(s)
	if !svc.Valid() {
		return "", fmt.Errorf("unknown service %q", s)
	}
	return svc, nil
}

// Valid reports whether s is one of the supported providers.
func (s Service) Valid() bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}

// IsEnterprise reports whether s is a self-hosted provider variant.
func (s Service) IsEnterprise() bool {
	return s == ServiceGitHubEnterprise || s == ServiceGitLabEnterprise || s == ServiceBitbucketServer
}

// Family returns the SaaS service sharing a wire format with s.
// Bitbucket Server keeps its own family: its payloads differ from Bitbucket Cloud.
func (s Service) Family() Service {
	switch s {
	case ServiceGitHubEnterprise:
		return ServiceGitHub
	case ServiceGitLabEnterprise:
		return ServiceGitLab
	default:
		return s
	}
}
