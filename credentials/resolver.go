package credentials

import (
	"fmt"
	"log/slog"
	"strings"
)

// Keys names the entries the resolver looks up. Each field lists accepted
// names in priority order; the first non-blank hit wins.
type Keys struct {
	Token        []string
	Secret       []string
	SharedSecret []string
}

// DefaultKeys returns the Definedge Integrate key names.
func DefaultKeys() Keys {
	return Keys{
		Token:        []string{"INTEGRATE_API_TOKEN"},
		Secret:       []string{"INTEGRATE_API_SECRET"},
		SharedSecret: []string{"TOTP_SECRET", "totp.secret"},
	}
}

// Config is fixed at construction. InteractiveEnabled is the hosting UI's
// capability flag: when false the interactive store is never consulted.
type Config struct {
	InteractiveEnabled bool
	Interactive        Source
	Env                Source
	Keys               Keys
	Logger             *slog.Logger
}

// Resolver locates credentials, interactive store first, then environment.
type Resolver struct {
	interactive Source
	env         Source
	keys        Keys
	logger      *slog.Logger
}

// NewResolver creates a Resolver. A nil Env defaults to the process
// environment; zero Keys default to DefaultKeys.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		env:    cfg.Env,
		keys:   cfg.Keys,
		logger: cfg.Logger,
	}
	if cfg.InteractiveEnabled {
		r.interactive = cfg.Interactive
	}
	if r.env == nil {
		r.env = Env()
	}
	if len(r.keys.Token) == 0 && len(r.keys.Secret) == 0 && len(r.keys.SharedSecret) == 0 {
		r.keys = DefaultKeys()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "credentials")
	return r
}

// Resolve returns fresh Credentials. Token and secret always come from the
// same source; the shared secret is looked up independently and its absence
// is not an error.
func (r *Resolver) Resolve() (*Credentials, error) {
	var token, secret, source string

	if r.interactive != nil {
		t, okT := lookup(r.interactive, r.keys.Token)
		s, okS := lookup(r.interactive, r.keys.Secret)
		if okT && okS {
			token, secret, source = t, s, r.interactive.Name()
		}
	}
	if source == "" {
		t, okT := lookup(r.env, r.keys.Token)
		s, okS := lookup(r.env, r.keys.Secret)
		if !okT || !okS {
			var missing []string
			if !okT {
				missing = append(missing, strings.Join(r.keys.Token, "/"))
			}
			if !okS {
				missing = append(missing, strings.Join(r.keys.Secret, "/"))
			}
			return nil, fmt.Errorf("%w: set %s in the secrets store or environment",
				ErrCredentialsMissing, strings.Join(missing, " and "))
		}
		token, secret, source = t, s, r.env.Name()
	}

	var shared, sharedSource string
	for _, src := range []Source{r.interactive, r.env} {
		if src == nil {
			continue
		}
		if v, ok := lookup(src, r.keys.SharedSecret); ok {
			shared, sharedSource = v, src.Name()
			break
		}
	}

	creds := New(token, secret, shared)
	creds.Source = source
	creds.SharedSecretSource = sharedSource
	r.logger.Debug("credentials resolved",
		slog.String("source", source),
		slog.Bool("shared_secret", shared != ""),
		slog.String("shared_secret_source", sharedSource))
	return creds, nil
}

func lookup(src Source, names []string) (string, bool) {
	for _, name := range names {
		if v, ok := src.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}
