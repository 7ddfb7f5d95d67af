package slack

import (
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
)

// Slack conversation types requested from conversations.list
const (
	conversationPublic  = "public_channel"
	conversationPrivate = "private_channel"
)

// Error codes returned in the Slack response body
var (
	// transientErrorCodes are server-side conditions worth retrying
	transientErrorCodes = map[string]struct{}{
		"internal_error":      {},
		"fatal_error":         {},
		"service_unavailable": {},
		"request_timeout":     {},
	}

	// alreadyDoneErrorCodes mean the requested state already holds
	alreadyDoneErrorCodes = map[string]struct{}{
		"already_in_channel": {},
	}
)

var _ interfaces.ChatProvider = &Client{}
