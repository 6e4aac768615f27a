package cache

import (
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
		{"wrong scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	opts, err := clientOptions(Config{URL: "redis://localhost:6379/2", ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if opts.DB != 2 {
		t.Errorf("DB = %d, want 2", opts.DB)
	}
	if opts.DialTimeout != 5*time.Second || opts.ReadTimeout != time.Second || opts.WriteTimeout != 3*time.Second {
		t.Errorf("timeouts = %v/%v/%v", opts.DialTimeout, opts.ReadTimeout, opts.WriteTimeout)
	}
}

func TestKey(t *testing.T) {
	c := &Cache{prefix: "player"}
	if got := c.Key("inflight"); got != "player:inflight" {
		t.Errorf("Key() = %q, want player:inflight", got)
	}
	if got := c.Key(); got != "player" {
		t.Errorf("Key() = %q, want player", got)
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, Config{URL: "redis://localhost:59999", DialTimeout: time.Second})
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}
