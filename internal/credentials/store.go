package credentials

import (
	"context"

	"post_orchestrator/internal/config"
	"post_orchestrator/internal/domain"
)

// Store resolves access tokens from static configuration. Tokens are
// loaded once at startup; rotation means a restart.
type Store struct {
	accounts map[string]config.AccountConfig
}

func NewStore(accounts map[string]config.AccountConfig) *Store {
	return &Store{accounts: accounts}
}

// GetToken returns the account's token for the platform. A missing token
// is an auth failure, terminal for the job that needed it.
func (s *Store) GetToken(ctx context.Context, account string, platform domain.Platform) (string, error) {
	acct, ok := s.accounts[account]
	if !ok {
		return "", domain.E(domain.KindAuth, "unknown account %q", account)
	}
	token, ok := acct.Tokens[string(platform)]
	if !ok || token == "" {
		return "", domain.E(domain.KindAuth, "no %s token for account %q", platform, account)
	}
	return token, nil
}
