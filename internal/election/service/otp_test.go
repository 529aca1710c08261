package service

import (
	"encoding/base64"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateOTP_format(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := generateOTP()
		if err != nil {
			t.Fatal(err)
		}
		if !validOTPFormat(code) {
			t.Fatalf("invalid code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("codes look non-random: %d distinct of 200", len(seen))
	}
}

func TestValidOTPFormat(t *testing.T) {
	for _, s := range []string{"000000", "123456", "999999"} {
		if !validOTPFormat(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []string{"", "12345", "1234567", "12 456", "abcdef", "+12345"} {
		if validOTPFormat(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestHashOTP_roundTrip(t *testing.T) {
	h, err := hashOTP("123456", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if h == "123456" {
		t.Fatal("hash equals plaintext")
	}
	if !checkOTP(h, "123456") {
		t.Error("correct code rejected")
	}
	if checkOTP(h, "123457") {
		t.Error("wrong code accepted")
	}
}

func TestNewBallotToken(t *testing.T) {
	a, err := newBallotToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newBallotToken()
	if a == b {
		t.Error("tokens must differ")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != ballotTokenBytes {
		t.Errorf("entropy: got %d bytes, want %d", len(raw), ballotTokenBytes)
	}
}

func TestHashTokenAndPrefix(t *testing.T) {
	tok := "abcdefghijklmnopqrstuvwxyz"
	h := hashToken(tok)
	if len(h) != 64 || h != hashToken(tok) {
		t.Errorf("hashToken: got %q", h)
	}
	if p := tokenPrefix(tok); p != "abcdefgh" {
		t.Errorf("tokenPrefix: got %q", p)
	}
}
