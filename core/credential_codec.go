package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatLegacyToken = "legacy_token"
	CredentialPayloadFormatJSONV1      = "credential_record_json"
	CredentialPayloadVersionV1         = 1
)

type CredentialCodec interface {
	Format() string
	Version() int
	Encode(record CredentialRecord) ([]byte, error)
	Decode(payload []byte) (CredentialRecord, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	SubjectID    string         `json:"subject_id,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (JSONCredentialCodec) Encode(record CredentialRecord) ([]byte, error) {
	payload := jsonCredentialPayload{
		SubjectID:    strings.TrimSpace(record.SubjectID),
		TokenType:    strings.TrimSpace(record.TokenType),
		AccessToken:  strings.TrimSpace(record.AccessToken),
		RefreshToken: strings.TrimSpace(record.RefreshToken),
		ExpiresAt:    cloneTimePointer(record.ExpiresAt),
		Metadata:     copyAnyMap(record.Metadata),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (CredentialRecord, error) {
	if len(payload) == 0 {
		return CredentialRecord{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return CredentialRecord{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return CredentialRecord{
		SubjectID:    strings.TrimSpace(decoded.SubjectID),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
		Metadata:     copyAnyMap(decoded.Metadata),
	}, nil
}

// LegacyTokenCredentialCodec reads the pre-migration storage format: a bare
// access token with no surrounding structure.
type LegacyTokenCredentialCodec struct{}

func (LegacyTokenCredentialCodec) Format() string {
	return CredentialPayloadFormatLegacyToken
}

func (LegacyTokenCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

func (LegacyTokenCredentialCodec) Encode(record CredentialRecord) ([]byte, error) {
	token := strings.TrimSpace(record.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("core: legacy credential payload requires a token")
	}
	return []byte(token), nil
}

func (LegacyTokenCredentialCodec) Decode(payload []byte) (CredentialRecord, error) {
	token := strings.TrimSpace(string(payload))
	if token == "" {
		return CredentialRecord{}, fmt.Errorf("core: legacy credential payload is empty")
	}
	return CredentialRecord{
		AccessToken: token,
	}, nil
}
