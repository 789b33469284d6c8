package instance

import (
	"reflect"
	"strings"
	"testing"
)

func TestArgvPortSubstitution(t *testing.T) {
	cfg := Config{Args: []string{"rest", "--port=PORT", "--url=http://x:PORT/y"}}
	got := cfg.Argv(8042)
	want := []string{"rest", "--port=8042", "--url=http://x:8042/y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestFlagTokenOrder(t *testing.T) {
	on, off := true, false
	f := Flags{
		AccountValidation: &on,
		BasicAuth: []Credential{
			{Username: "a", Password: "1"},
			{Username: "b", Password: "2"},
		},
		OS:            "GowaManager",
		Webhooks:      []string{"https://h1", "https://h2"},
		AutoMarkRead:  &off,
		AutoReply:     "brb",
		BasePath:      "/app/KEY12345",
		Debug:         &on,
		WebhookSecret: "s3cret",
	}

	want := []string{
		"--account-validation=true",
		"--basic-auth=a:1",
		"--basic-auth=b:2",
		"--os=GowaManager",
		"--webhook=https://h1",
		"--webhook=https://h2",
		"--auto-mark-read=false",
		"--autoreply=brb",
		"--base-path=/app/KEY12345",
		"--debug=true",
		"--webhook-secret=s3cret",
	}
	if got := f.Tokens(); !reflect.DeepEqual(got, want) {
		t.Errorf("tokens:\n got %v\nwant %v", got, want)
	}
}

func TestFlagTokensOmitUnset(t *testing.T) {
	if got := (Flags{}).Tokens(); len(got) != 0 {
		t.Errorf("empty flags produced tokens: %v", got)
	}
}

func TestEnvironPrecedence(t *testing.T) {
	cfg := Config{Env: map[string]string{"PORT": "override", "EXTRA": "1"}}
	env := cfg.Environ([]string{"PATH=/bin", "HOME=/root"}, 8001)

	// Parent first, then PORT, then configured entries so configured wins.
	var portIdx, overrideIdx int = -1, -1
	for i, e := range env {
		if e == "PORT=8001" {
			portIdx = i
		}
		if e == "PORT=override" {
			overrideIdx = i
		}
	}
	if portIdx == -1 || overrideIdx == -1 {
		t.Fatalf("missing PORT entries: %v", env)
	}
	if overrideIdx < portIdx {
		t.Errorf("configured entry must come after the allocated PORT: %v", env)
	}

	joined := strings.Join(env, " ")
	if !strings.Contains(joined, "PATH=/bin") || !strings.Contains(joined, "EXTRA=1") {
		t.Errorf("environment incomplete: %v", env)
	}
}
