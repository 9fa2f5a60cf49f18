package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime }()

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-01-02T03:04:05Z"
	if got, want := String(), "1.2.0 (abc123, built 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
