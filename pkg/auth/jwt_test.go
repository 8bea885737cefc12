package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignParse(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Sign("p1", "provider", true, true, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	c, err := v.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Subject != "p1" || c.Role != "provider" || !c.Approved || !c.Active {
		t.Fatalf("claims %+v", c)
	}
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("secret")
	expired, _ := v.Sign("p1", "provider", true, true, -time.Minute)
	foreign, _ := NewVerifier("other").Sign("p1", "provider", true, true, time.Minute)
	noSubject, _ := v.Sign("", "provider", true, true, time.Minute)

	cases := map[string]string{
		"expired":    expired,
		"foreign":    foreign,
		"no subject": noSubject,
		"garbage":    "not.a.token",
	}
	for name, tok := range cases {
		if _, err := v.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err=%v, want ErrInvalidToken", name, err)
		}
	}
	if _, err := v.Parse(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token = %v", err)
	}
}

func TestFromHeader(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"":            "",
	}
	for in, want := range cases {
		if got := FromHeader(in); got != want {
			t.Fatalf("FromHeader(%q)=%q, want %q", in, got, want)
		}
	}
}
