package localize

import "testing"

func TestMessageFallbackChain(t *testing.T) {
	var tests = []struct {
		desc   string
		locale string
		key    Key
		args   []string
		want   string
	}{
		{
			desc:   "exact locale match",
			locale: "de",
			key:    ErrAuthentication,
			want:   "Authentifizierung fehlgeschlagen",
		},
		{
			desc:   "xx_YY falls back to base language",
			locale: "de_DE",
			key:    ErrReservedID,
			args:   []string{"3"},
			want:   "ID 3 ist reserviert",
		},
		{
			desc:   "key missing from base falls back to en",
			locale: "de",
			key:    ErrOperation,
			args:   []string{"ATTACH", "bad id"},
			want:   "Operation ATTACH failed: bad id",
		},
		{
			desc:   "unsupported locale falls back to en",
			locale: "ja",
			key:    ErrMissingFilename,
			want:   "Missing filename",
		},
		{
			desc:   "positional substitution in order",
			locale: "en",
			key:    ErrNonExistingUnit,
			args:   []string{"2", "1"},
			want:   "No device for ID 2, unit 1",
		},
	}

	for i, tt := range tests {
		got := Message(tt.locale, tt.key, tt.args...)
		if got != tt.want {
			t.Fatalf("[%02d] test %q: Message() = %q, want %q", i, tt.desc, got, tt.want)
		}
	}
}

func TestResolveLocale(t *testing.T) {
	var tests = []struct {
		desc   string
		locale string
		want   string
	}{
		{desc: "exact supported locale", locale: "fr", want: "en"}, // cataloged only in en; fr has no templates
		{desc: "xx_YY with cataloged base", locale: "de_AT", want: "de"},
		{desc: "unknown locale", locale: "zz", want: "en"},
		{desc: "case insensitive", locale: "DE", want: "de"},
	}

	for i, tt := range tests {
		got := resolveLocale(tt.locale)
		if got != tt.want {
			t.Fatalf("[%02d] test %q: resolveLocale(%q) = %q, want %q", i, tt.desc, tt.locale, got, tt.want)
		}
	}
}
