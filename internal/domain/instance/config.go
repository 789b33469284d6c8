package instance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/GowaManager/internal/domain"
)

// Config is the per-instance child process configuration. Historic payloads
// allow args as a whitespace-split string and env as a "KEY=value" string
// (also under the legacy key "envVars"); both shapes are normalized into the
// structured form at decode time.
type Config struct {
	Args  []string          `json:"args,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	Flags Flags             `json:"flags,omitempty"`
}

// Credential is one basic-auth user for the child process.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Flags holds the recognized GOWA command-line options. Serialization order
// is fixed; see Config.Argv.
type Flags struct {
	AccountValidation *bool        `json:"accountValidation,omitempty"`
	BasicAuth         []Credential `json:"basicAuth,omitempty"`
	OS                string       `json:"os,omitempty"`
	Webhooks          []string     `json:"webhooks,omitempty"`
	AutoMarkRead      *bool        `json:"autoMarkRead,omitempty"`
	AutoReply         string       `json:"autoReply,omitempty"`
	BasePath          string       `json:"basePath,omitempty"`
	Debug             *bool        `json:"debug,omitempty"`
	WebhookSecret     string       `json:"webhookSecret,omitempty"`
}

// configAlias matches the wire shape before normalization.
type configAlias struct {
	Args    json.RawMessage `json:"args"`
	Env     json.RawMessage `json:"env"`
	EnvVars json.RawMessage `json:"envVars"`
	Flags   *Flags          `json:"flags"`
}

// UnmarshalJSON normalizes the historic string shapes into the structured
// form so consumers never branch on the wire representation.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw configAlias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	args, err := decodeArgs(raw.Args)
	if err != nil {
		return err
	}

	env, err := decodeEnv(raw.Env)
	if err != nil {
		return err
	}
	if env == nil {
		// Legacy field, same semantics as a string-valued "env".
		if env, err = decodeEnv(raw.EnvVars); err != nil {
			return err
		}
	}

	c.Args = args
	c.Env = env
	if raw.Flags != nil {
		c.Flags = *raw.Flags
	} else {
		c.Flags = Flags{}
	}
	return nil
}

func decodeArgs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Fields(s), nil
	}
	return nil, fmt.Errorf("%w: args must be a string or an array of strings", domain.ErrValidation)
}

func decodeEnv(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out := make(map[string]string)
		for _, tok := range strings.Fields(s) {
			k, v, ok := strings.Cut(tok, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("%w: env entry %q is not KEY=value", domain.ErrValidation, tok)
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: env must be a KEY=value string or an object", domain.ErrValidation)
}

// DefaultConfig returns the config assigned to a newly created instance.
func DefaultConfig(prefix, key string) Config {
	t := true
	return Config{
		Args: []string{"rest", "--port=PORT"},
		Flags: Flags{
			AccountValidation: &t,
			OS:                "GowaManager",
			BasePath:          BasePath(prefix, key),
		},
	}
}
