package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// BearerTokenSigner sets the standard Authorization header from the record's
// access token, honoring a non-default token type when one is recorded.
type BearerTokenSigner struct{}

func (BearerTokenSigner) Sign(_ context.Context, req *http.Request, record CredentialRecord) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	token := strings.TrimSpace(record.AccessToken)
	if token == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	scheme := strings.TrimSpace(record.TokenType)
	if scheme == "" {
		scheme = "Bearer"
	}
	req.Header.Set("Authorization", scheme+" "+token)
	return nil
}

// SignRequest attaches the current credential to an outbound request using
// the configured signer. When record is nil the stored credential is used.
func (s *Service) SignRequest(ctx context.Context, req *http.Request, record *CredentialRecord) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.signer == nil {
		return s.mapError(fmt.Errorf("core: signer is not configured"))
	}

	active := CredentialRecord{}
	if record != nil {
		active = *record
	} else {
		stored, found, err := s.coordinator.CurrentCredential(ctx)
		if err != nil {
			return s.mapError(err)
		}
		if !found {
			return s.mapError(fmt.Errorf("core: credential is required for signing"))
		}
		active = stored
	}

	if err := s.signer.Sign(ctx, req, active); err != nil {
		return s.mapError(err)
	}
	return nil
}

var _ Signer = BearerTokenSigner{}
