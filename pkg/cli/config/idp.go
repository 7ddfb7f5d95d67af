package config

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/service/idp"
	"github.com/urfave/cli/v3"
)

// IdP holds the identity provider connection settings
type IdP struct {
	baseURL       string
	token         string
	modifiedSince bool
	timeout       time.Duration
}

func (x *IdP) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "idp-url",
			Usage:       "Base URL of the identity provider user API",
			Category:    "Identity Provider",
			Destination: &x.baseURL,
			Sources:     cli.EnvVars("SWITCHBOARD_IDP_URL"),
		},
		&cli.StringFlag{
			Name:        "idp-token",
			Usage:       "Bearer token for the identity provider",
			Category:    "Identity Provider",
			Destination: &x.token,
			Sources:     cli.EnvVars("SWITCHBOARD_IDP_TOKEN"),
		},
		&cli.BoolFlag{
			Name:        "idp-modified-since",
			Usage:       "The provider honours modified_since, enabling incremental user syncs",
			Category:    "Identity Provider",
			Destination: &x.modifiedSince,
			Sources:     cli.EnvVars("SWITCHBOARD_IDP_MODIFIED_SINCE"),
		},
		&cli.DurationFlag{
			Name:        "idp-timeout",
			Usage:       "HTTP timeout of a single identity provider request",
			Category:    "Identity Provider",
			Value:       30 * time.Second,
			Destination: &x.timeout,
			Sources:     cli.EnvVars("SWITCHBOARD_IDP_TIMEOUT"),
		},
	}
}

func (x IdP) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", x.baseURL),
		slog.Int("token.len", len(x.token)),
		slog.Bool("modified-since", x.modifiedSince),
	)
}

// Configure creates the directory client. It returns nil without error when
// no URL is set.
func (x *IdP) Configure() (*idp.Client, error) {
	if x.baseURL == "" {
		return nil, nil
	}
	if x.token == "" {
		return nil, goerr.Wrap(ErrMissingFlag, "--idp-url requires --idp-token", goerr.V(FlagKey, "idp-token"))
	}

	client, err := idp.New(x.baseURL, x.token,
		idp.WithModifiedSince(x.modifiedSince),
		idp.WithHTTPClient(&http.Client{Timeout: x.timeout}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create identity provider client")
	}
	return client, nil
}
