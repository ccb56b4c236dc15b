package identity

import (
	"errors"
	"testing"
	"time"
)

func TestNewBuildsIdentity(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := New("id-1", "  alice ", RoleAdmin, "WELCOME-123", fixed)
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	if got.ID != "id-1" {
		t.Fatalf("expected id-1, got %s", got.ID)
	}
	if got.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", got.Username)
	}
	if got.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %s", got.Role)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamp, got %v", got.CreatedAt)
	}
	if got.OriginTokenCode != "WELCOME-123" {
		t.Fatalf("expected origin token, got %q", got.OriginTokenCode)
	}
}

func TestNewNormalizesTimestampToUTC(t *testing.T) {
	local := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("UTC+5", 5*3600))
	got, err := New("id-1", "alice", RoleMember, "", local)
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", got.CreatedAt.Location())
	}
}

func TestNewRejectsEmptyUsername(t *testing.T) {
	_, err := New("id-1", "   ", RoleMember, "", time.Now())
	if !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected ErrEmptyUsername, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("admin") != RoleAdmin {
		t.Fatal("expected admin")
	}
	if ParseRole("member") != RoleMember {
		t.Fatal("expected member")
	}
	if ParseRole("something-else") != RoleMember {
		t.Fatal("expected member fallback")
	}
}
