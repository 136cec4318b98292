package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-client/core"
)

const (
	TypeLogin   = "client.command.login"
	TypeLogout  = "client.command.logout"
	TypeRefresh = "client.command.refresh"
)

type LoginMessage struct {
	Input core.LoginInput
}

func (LoginMessage) Type() string { return TypeLogin }

func (m LoginMessage) Validate() error {
	if strings.TrimSpace(m.Input.AccessToken) == "" {
		return commandValidationError("access_token", "access token is required")
	}
	if m.Input.ExpiresIn < 0 {
		return fmt.Errorf("command: expires_in must not be negative")
	}
	return nil
}

type LogoutMessage struct {
	Reason string
}

func (LogoutMessage) Type() string { return TypeLogout }

func (LogoutMessage) Validate() error {
	return nil
}

// RefreshMessage forces a token refresh regardless of expiry.
type RefreshMessage struct{}

func (RefreshMessage) Type() string { return TypeRefresh }

func (RefreshMessage) Validate() error {
	return nil
}
