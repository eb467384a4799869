package session

import (
	"os"

	"github.com/mfigueira/convo/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// Resolve picks the active session name. The --session flag wins, then the
// CONVO_SESSION environment variable, then default_session from config.toml,
// and finally "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("CONVO_SESSION"); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
