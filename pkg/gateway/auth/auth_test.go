package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer vp_sk_abc", "vp_sk_abc", true},
		{"trims", "Bearer   vp_sk_abc  ", "vp_sk_abc", true},
		{"missing", "", "", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", false},
		{"empty token", "Bearer ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := ParseBearer(r)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFrom(ctx); ok {
		t.Fatal("empty context should have no principal")
	}

	ctx = WithPrincipal(ctx, &Principal{APIKey: "vp_sk_abc", UserID: "u_1"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.APIKey != "vp_sk_abc" || p.UserID != "u_1" {
		t.Fatalf("principal=%+v ok=%v", p, ok)
	}
}
