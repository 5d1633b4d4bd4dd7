package initdata

import "strings"

// AuthPolicy resolves the caller's Telegram user id from init data. Picked
// once at startup so individual handlers carry no dev-mode branching.
type AuthPolicy interface {
	// ResolveUserID returns the authenticated user id for the given init
	// data, or one of the package errors.
	ResolveUserID(initData string) (int64, error)
	// SkipNatalAuth reports whether the natal-calculation endpoints may be
	// called without init data.
	SkipNatalAuth() bool
}

// StrictPolicy requires a valid signed payload for every request.
type StrictPolicy struct {
	BotToken string
}

func (p StrictPolicy) ResolveUserID(initData string) (int64, error) {
	return UserID(initData, p.BotToken)
}

func (p StrictPolicy) SkipNatalAuth() bool { return false }

// PermissivePolicy is the development policy: when init data or the token is
// absent it substitutes a fixed fallback id instead of failing. Never wire
// this up outside development.
type PermissivePolicy struct {
	BotToken   string
	FallbackID int64
}

func (p PermissivePolicy) ResolveUserID(initData string) (int64, error) {
	if strings.TrimSpace(initData) == "" || p.BotToken == "" {
		if p.FallbackID != 0 {
			return p.FallbackID, nil
		}
		return 1, nil
	}
	return UserID(initData, p.BotToken)
}

func (p PermissivePolicy) SkipNatalAuth() bool { return true }
