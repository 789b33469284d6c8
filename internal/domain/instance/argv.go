package instance

import (
	"sort"
	"strconv"
	"strings"
)

// portToken is replaced by the allocated port wherever it appears inside an
// argument token. The replacement is a plain substring substitution; tokens
// are never shell-interpreted.
const portToken = "PORT"

// Argv materializes the child's argument vector for the given port: the
// configured args with PORT substituted, followed by the flag tokens in
// their fixed order.
func (c Config) Argv(port int) []string {
	out := make([]string, 0, len(c.Args)+8)
	p := strconv.Itoa(port)
	for _, a := range c.Args {
		out = append(out, strings.ReplaceAll(a, portToken, p))
	}
	return append(out, c.Flags.Tokens()...)
}

// Tokens serializes the flags to long-form --flag=value arguments. The order
// is fixed so materialization is deterministic.
func (f Flags) Tokens() []string {
	var out []string
	if f.AccountValidation != nil {
		out = append(out, "--account-validation="+strconv.FormatBool(*f.AccountValidation))
	}
	for _, cred := range f.BasicAuth {
		out = append(out, "--basic-auth="+cred.Username+":"+cred.Password)
	}
	if f.OS != "" {
		out = append(out, "--os="+f.OS)
	}
	for _, u := range f.Webhooks {
		out = append(out, "--webhook="+u)
	}
	if f.AutoMarkRead != nil {
		out = append(out, "--auto-mark-read="+strconv.FormatBool(*f.AutoMarkRead))
	}
	if f.AutoReply != "" {
		out = append(out, "--autoreply="+f.AutoReply)
	}
	if f.BasePath != "" {
		out = append(out, "--base-path="+f.BasePath)
	}
	if f.Debug != nil {
		out = append(out, "--debug="+strconv.FormatBool(*f.Debug))
	}
	if f.WebhookSecret != "" {
		out = append(out, "--webhook-secret="+f.WebhookSecret)
	}
	return out
}

// Environ builds the child's environment: the parent environment, then
// PORT=<port>, then the configured entries. Duplicate keys resolve to the
// last occurrence, so configured entries win.
func (c Config) Environ(parent []string, port int) []string {
	out := make([]string, 0, len(parent)+len(c.Env)+1)
	out = append(out, parent...)
	out = append(out, "PORT="+strconv.Itoa(port))

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}
