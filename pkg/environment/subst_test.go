package environment

import (
	"strings"
	"testing"

	"github.com/openfroyo/daqconf/pkg/dal"
)

func TestSubstitute(t *testing.T) {
	vars := MapLookup(map[string]string{
		"FOO":  "bar",
		"A":    "1",
		"B":    "2",
		"PATH": "/usr/bin",
	})

	tests := []struct {
		name       string
		in         string
		begin, end string
		want       string
	}{
		{"single", "/x/${FOO}/y", BraceBegin, BraceEnd, "/x/bar/y"},
		{"adjacent", "${A}${B}", BraceBegin, BraceEnd, "12"},
		{"unknown left as is", "${NOPE}/z", BraceBegin, BraceEnd, "${NOPE}/z"},
		{"unterminated", "${FOO", BraceBegin, BraceEnd, "${FOO"},
		{"no references", "plain", BraceBegin, BraceEnd, "plain"},
		{"parentheses", "$(PATH):/opt", ParenBegin, ParenEnd, "/usr/bin:/opt"},
		{"env references", "-p env(FOO) -q", EnvBegin, EnvEnd, "-p bar -q"},
		{"other delimiters ignored", "${FOO} $(FOO)", ParenBegin, ParenEnd, "${FOO} bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, vars, tt.begin, tt.end)
			if err != nil {
				t.Fatalf("Substitute failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubstituteStrict_Missing(t *testing.T) {
	_, err := SubstituteStrict("a $(MISSING) b", MapLookup(nil), ParenBegin, ParenEnd)
	if !dal.HasCode(err, dal.ErrCodeSubstitutionFailed) {
		t.Fatalf("error = %v, want SUBSTITUTION_FAILED", err)
	}
	if !strings.Contains(err.Error(), "$(MISSING)") {
		t.Errorf("message %q does not name the reference", err.Error())
	}
}

func TestSubstitute_SelfReference(t *testing.T) {
	vars := MapLookup(map[string]string{"X": "x${X}"})
	_, err := Substitute("${X}", vars, BraceBegin, BraceEnd)
	if !dal.HasCode(err, dal.ErrCodeSubstitutionLimit) {
		t.Fatalf("error = %v, want SUBSTITUTION_LIMIT", err)
	}
	if !dal.IsBadConfiguration(err) {
		t.Errorf("error class is not bad configuration: %v", err)
	}
}

func TestConfigVersion(t *testing.T) {
	v, err := ConfigVersion(MapLookup(map[string]string{EnvDBVersion: "oks:42"}))
	if err != nil {
		t.Fatalf("ConfigVersion failed: %v", err)
	}
	if v != "oks:42" {
		t.Errorf("version = %q", v)
	}

	_, err = ConfigVersion(MapLookup(nil))
	if !dal.HasCode(err, dal.ErrCodeNoConfigVersion) {
		t.Errorf("error = %v, want NO_CONFIG_VERSION", err)
	}
}
