package db

import "testing"

func TestKeyPrefixPatternEscapesMetaCharacters(t *testing.T) {
	got := keyPrefixPattern("migration/v1.2+x")
	want := `^migration/v1\.2\+x`
	if got != want {
		t.Errorf("Expected '%s', got '%s'", want, got)
	}
}

func TestKeyPrefixPatternLeavesPlainPrefixesAlone(t *testing.T) {
	if got := keyPrefixPattern("refollow"); got != "^refollow" {
		t.Errorf("Expected '^refollow', got '%s'", got)
	}
}
