package sip

import (
	"errors"
	"strings"
	"testing"
)

// Reference vector from RFC 2617 section 3.5.
func TestDigestResponseRFCVector(t *testing.T) {
	got := DigestResponse("Mufasa", "Circle Of Life", "testrealm@host.com",
		"dcd98b7102dd2f0e8b11d0f600bfb0c093", "GET", "/dir/index.html")
	want := "6629fae49393a05397450978507c4ef1"
	if got != want {
		t.Errorf("DigestResponse = %s, want %s", got, want)
	}
}

func TestParseChallenge(t *testing.T) {
	header := `Digest realm="asterisk", nonce="4f1d2b3c", algorithm=MD5, qop="auth", opaque="abc"`
	ch, err := ParseChallenge(header)
	if err != nil {
		t.Fatalf("ParseChallenge: %v", err)
	}
	if ch.Realm != "asterisk" {
		t.Errorf("Realm = %q", ch.Realm)
	}
	if ch.Nonce != "4f1d2b3c" {
		t.Errorf("Nonce = %q", ch.Nonce)
	}
	if ch.Algorithm != "MD5" {
		t.Errorf("Algorithm = %q", ch.Algorithm)
	}
	if ch.QOP != "auth" {
		t.Errorf("QOP = %q", ch.QOP)
	}
	if ch.Opaque != "abc" {
		t.Errorf("Opaque = %q", ch.Opaque)
	}
}

func TestParseChallengeDefaultsAlgorithm(t *testing.T) {
	ch, err := ParseChallenge(`Digest realm="pbx", nonce="n1"`)
	if err != nil {
		t.Fatalf("ParseChallenge: %v", err)
	}
	if ch.Algorithm != "MD5" {
		t.Errorf("Algorithm = %q, want MD5 default", ch.Algorithm)
	}
}

func TestParseChallengeRejects(t *testing.T) {
	if _, err := ParseChallenge(`Basic realm="pbx"`); !errors.Is(err, ErrNotDigest) {
		t.Errorf("Basic scheme: err = %v, want ErrNotDigest", err)
	}
	if _, err := ParseChallenge(`Digest algorithm=MD5`); err == nil {
		t.Error("challenge without realm/nonce should fail")
	}
}

func TestAuthorizationHeader(t *testing.T) {
	ch := &Challenge{Realm: "asterisk", Nonce: "n1", Algorithm: "MD5", Opaque: "op"}
	hdr, err := AuthorizationHeader("doorbell", "secret", ch, "INVITE", "sip:100@10.0.0.50")
	if err != nil {
		t.Fatalf("AuthorizationHeader: %v", err)
	}

	if !strings.HasPrefix(hdr, `Digest username="doorbell"`) {
		t.Errorf("header = %q", hdr)
	}
	want := DigestResponse("doorbell", "secret", "asterisk", "n1", "INVITE", "sip:100@10.0.0.50")
	if !strings.Contains(hdr, `response="`+want+`"`) {
		t.Errorf("header missing computed response: %q", hdr)
	}
	if !strings.Contains(hdr, `opaque="op"`) {
		t.Errorf("header missing opaque: %q", hdr)
	}
	if !strings.Contains(hdr, `uri="sip:100@10.0.0.50"`) {
		t.Errorf("header missing uri: %q", hdr)
	}
}

func TestAuthorizationHeaderWithQOP(t *testing.T) {
	ch := &Challenge{Realm: "asterisk", Nonce: "n1", Algorithm: "MD5", QOP: "auth"}
	hdr, err := AuthorizationHeader("doorbell", "secret", ch, "INVITE", "sip:100@10.0.0.50")
	if err != nil {
		t.Fatalf("AuthorizationHeader: %v", err)
	}
	if !strings.Contains(hdr, "qop=auth") {
		t.Errorf("header missing qop: %q", hdr)
	}
	if !strings.Contains(hdr, `cnonce="`) {
		t.Errorf("header missing cnonce: %q", hdr)
	}
}
