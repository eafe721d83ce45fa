package geoip

import (
	"errors"
	"testing"
)

func TestNewResolverWithoutPath(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver(\"\") = %v, %v; want nil, nil", r, err)
	}
}

func TestNewResolverMissingFile(t *testing.T) {
	if _, err := NewResolver(t.TempDir() + "/missing.mmdb"); err == nil {
		t.Fatal("expected an error for a missing database")
	}
}

func TestCountryCodeWithoutDatabase(t *testing.T) {
	var r *Resolver
	tests := []struct {
		ip      string
		want    string
		wantErr error
		invalid bool
	}{
		{ip: "127.0.0.1"},
		{ip: "10.1.2.3:8080"},
		{ip: "[::1]:443"},
		{ip: "192.168.0.9"},
		{ip: "8.8.8.8", wantErr: ErrUnavailable},
		{ip: "not-an-ip", invalid: true},
	}
	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			got, err := r.CountryCode(tc.ip)
			switch {
			case tc.invalid:
				if err == nil {
					t.Fatalf("expected an error for %q", tc.ip)
				}
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("CountryCode(%q) error = %v, want %v", tc.ip, err, tc.wantErr)
				}
			default:
				if err != nil || got != tc.want {
					t.Fatalf("CountryCode(%q) = %q, %v", tc.ip, got, err)
				}
			}
		})
	}
}
