// Package bitbucket implements the ProviderAdapter port for Bitbucket Cloud
// and Bitbucket Server over their REST APIs with OAuth bearer tokens.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/maxbolgarin/cliex"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// DefaultCloudURL is the Bitbucket Cloud API root.
const DefaultCloudURL = "https://api.bitbucket.org"

var errNotFound = errors.New("not found")

// client holds the REST client shared by both flavours. Requests carry the
// owner's token through an oauth2 transport.
type client struct {
	http *cliex.HTTP
}

func newClient(httpClient *http.Client, token, baseURL string) (client, error) {
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	cli, err := cliex.New(cliex.WithBaseURL(strings.TrimRight(baseURL, "/")))
	if err != nil {
		return client{}, fmt.Errorf("creating bitbucket client for %s: %w", baseURL, err)
	}
	cli.C().SetTransport(authed.Transport)
	cli.C().SetHeader("Accept", "application/json")

	return client{http: cli}, nil
}

// get issues a GET against path (already escaped) and decodes the JSON body
// into v. A 404 yields errNotFound; other failures yield *driven.ProviderError.
func (c client) get(ctx context.Context, path string, query url.Values, v any) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.http.Get(ctx, target, v)
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return errNotFound
	}
	if resp != nil && resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("requesting %s: %w", path, &driven.ProviderError{
			StatusCode: resp.StatusCode(),
			Message:    errorMessage(resp.Body(), resp.Status()),
		})
	}
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, &driven.ProviderError{Message: err.Error()})
	}
	return nil
}

// hidden reports whether err means the resource is invisible to the token.
func hidden(err error) bool {
	if errors.Is(err, errNotFound) {
		return true
	}
	var perr *driven.ProviderError
	return errors.As(err, &perr) && perr.StatusCode == http.StatusForbidden
}

// errorMessage extracts the message of either API's error envelope:
// Cloud {"error": {"message": ...}} or Server {"errors": [{"message": ...}]}.
func errorMessage(body []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if len(envelope.Errors) > 0 && envelope.Errors[0].Message != "" {
			return envelope.Errors[0].Message
		}
	}
	return fallback
}
