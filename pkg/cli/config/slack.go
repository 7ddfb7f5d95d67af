package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

type Slack struct {
	botToken        string
	signingSecret   string
	teamID          string
	apiURL          string
	privateChannels bool
}

func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack Bot User OAuth Token (channels, members, invites and messages)",
			Category:    "Slack",
			Destination: &x.botToken,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_BOT_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "slack-signing-secret",
			Usage:       "Slack Signing Secret (enables the event webhook)",
			Category:    "Slack",
			Destination: &x.signingSecret,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_SIGNING_SECRET"),
		},
		&cli.StringFlag{
			Name:        "slack-team-id",
			Usage:       "Restrict listings to one workspace of an Enterprise Grid organization",
			Category:    "Slack",
			Destination: &x.teamID,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_TEAM_ID"),
		},
		&cli.StringFlag{
			Name:        "slack-api-url",
			Usage:       "Override the Slack Web API endpoint (must end with /)",
			Category:    "Slack",
			Destination: &x.apiURL,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_API_URL"),
		},
		&cli.BoolFlag{
			Name:        "slack-private-channels",
			Usage:       "Include private channels in room syncs (requires groups:read)",
			Category:    "Slack",
			Destination: &x.privateChannels,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_PRIVATE_CHANNELS"),
		},
	}
}

func (x Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("bot-token.len", len(x.botToken)),
		slog.Int("signing-secret.len", len(x.signingSecret)),
		slog.String("team-id", x.teamID),
		slog.Bool("private-channels", x.privateChannels),
	)
}

// IsConfigured reports whether a bot token was given
func (x *Slack) IsConfigured() bool {
	return x.botToken != ""
}

// IsWebhookConfigured checks if Slack webhook is configured
func (x *Slack) IsWebhookConfigured() bool {
	return x.signingSecret != ""
}

// SigningSecret returns the Slack signing secret
func (x *Slack) SigningSecret() string {
	return x.signingSecret
}

// Configure creates the chat platform client. It returns nil without error
// when no bot token is set.
func (x *Slack) Configure() (*slack.Client, error) {
	if x.botToken == "" {
		if x.signingSecret != "" {
			return nil, goerr.Wrap(ErrMissingFlag, "--slack-signing-secret requires --slack-bot-token",
				goerr.V(FlagKey, "slack-bot-token"))
		}
		return nil, nil
	}

	opts := []slack.Option{slack.WithPrivateChannels(x.privateChannels)}
	if x.teamID != "" {
		opts = append(opts, slack.WithTeamID(x.teamID))
	}
	if x.apiURL != "" {
		opts = append(opts, slack.WithAPIURL(x.apiURL))
	}

	client, err := slack.New(x.botToken, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create slack client")
	}
	return client, nil
}
