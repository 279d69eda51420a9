package pagination

import (
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" {
		t.Fatalf("unexpected defaults: %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	cases := map[string]int{"30": 30, "400": 40, "0": 25, "-3": 25}
	for raw, want := range cases {
		params, err := Parse(url.Values{"page_size": {raw}}, opts)
		if err != nil {
			t.Fatalf("page_size %q: unexpected error %v", raw, err)
		}
		if params.PageSize != want {
			t.Fatalf("page_size %q: expected %d got %d", raw, want, params.PageSize)
		}
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	_, err := Parse(url.Values{"page_size": {"ten"}}, Options{})
	if !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestParseValidatesPageToken(t *testing.T) {
	token := EncodeOffset(40)
	params, err := Parse(url.Values{"page_token": {token}}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token passthrough, got %q", params.PageToken)
	}

	for _, bad := range []string{"%%%", "bm90LWpzb24", base64.RawURLEncoding.EncodeToString([]byte(`{"o":-1}`))} {
		if _, err := Parse(url.Values{"page_token": {bad}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", bad, err)
		}
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	if EncodeOffset(0) != "" {
		t.Fatalf("expected empty token for offset zero")
	}
	got, err := DecodeOffset(EncodeOffset(120))
	if err != nil || got != 120 {
		t.Fatalf("expected 120, got %d (%v)", got, err)
	}
	if got, err := DecodeOffset(""); err != nil || got != 0 {
		t.Fatalf("expected zero offset for empty token, got %d (%v)", got, err)
	}
}
