// Package credentials keeps provider API keys in Postgres so the AI tools can
// run without the key living in the process environment.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"docify/internal/infra"
	"docify/internal/sqlinline"
)

const ProviderGemini = "gemini"

var ErrEmptyToken = errors.New("credentials: token is required")

// Token is a stored provider key plus its free-form settings.
type Token struct {
	Provider   string
	Value      string
	Properties map[string]string
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Lookup returns the stored token for provider. A missing row yields a zero
// Token and a nil error.
func (s *Store) Lookup(ctx context.Context, provider string) (Token, error) {
	provider = normalize(provider)
	var (
		value string
		raw   []byte
	)
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&value, &raw); err != nil {
		if infra.IsNoRows(err) {
			return Token{Provider: provider}, nil
		}
		return Token{}, err
	}
	tok := Token{Provider: provider, Value: strings.TrimSpace(value)}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &tok.Properties); err != nil {
			return Token{}, err
		}
	}
	return tok, nil
}

func (s *Store) Save(ctx context.Context, tok Token) error {
	tok.Value = strings.TrimSpace(tok.Value)
	if tok.Value == "" {
		return ErrEmptyToken
	}
	props := tok.Properties
	if props == nil {
		props = map[string]string{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, normalize(tok.Provider), tok.Value, raw)
	return err
}

func (s *Store) Delete(ctx context.Context, provider string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, normalize(provider))
	return err
}

// Gemini resolves the Gemini key and model. Non-empty values in fallback win
// over stored ones; the stored model lives under the "model" property.
func (s *Store) Gemini(ctx context.Context, key, model string) (string, string, error) {
	if strings.TrimSpace(key) != "" {
		return key, model, nil
	}
	tok, err := s.Lookup(ctx, ProviderGemini)
	if err != nil {
		return "", model, err
	}
	if model == "" {
		model = tok.Properties["model"]
	}
	return tok.Value, model, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
