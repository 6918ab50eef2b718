package game

import (
	"fmt"
	"testing"
	"time"
)

func noPlayers(string) bool { return false }

// TestResolveFreshName verifies an unused name is granted unchanged
func TestResolveFreshName(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, 0)

	res, err := r.Resolve("Alice", "c1", noPlayers, time.Now())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Name != "Alice" || res.Modified {
		t.Errorf("Expected unmodified 'Alice', got %+v", res)
	}
	if name, _ := r.NameOf("c1"); name != "Alice" {
		t.Errorf("connToName not updated, got %q", name)
	}
	if conn, _ := r.ConnOf("Alice"); conn != "c1" {
		t.Errorf("nameToConn not updated, got %q", conn)
	}
}

// TestResolveCollisionSuffixes checks the Nth colliding request gets suffix N-1
func TestResolveCollisionSuffixes(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, 0)
	taken := map[string]bool{}
	exists := func(n string) bool { return taken[n] }

	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		conn := ConnID(fmt.Sprintf("c%d", i))
		res, err := r.Resolve("Alice", conn, exists, time.Now())
		if err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}

		want := "Alice"
		if i > 0 {
			want = fmt.Sprintf("Alice%d", i)
		}
		if res.Name != want {
			t.Errorf("Request %d: expected %q, got %q", i, want, res.Name)
		}
		if res.Modified != (i > 0) {
			t.Errorf("Request %d: unexpected Modified=%v", i, res.Modified)
		}
		if seen[res.Name] {
			t.Errorf("Duplicate name minted: %q", res.Name)
		}
		seen[res.Name] = true
		taken[res.Name] = true
	}
}

// TestResolveSameConnectionReconnects verifies re-joining keeps the name
func TestResolveSameConnectionReconnects(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, 0)
	exists := func(n string) bool { return n == "Alice" }

	r.Resolve("Alice", "c1", noPlayers, time.Now())
	res, err := r.Resolve("Alice", "c1", exists, time.Now())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Name != "Alice" || res.Modified {
		t.Errorf("Same connection should keep its name, got %+v", res)
	}
}

// TestResolveRejectPolicy verifies the strict variant refuses contended names
func TestResolveRejectPolicy(t *testing.T) {
	r := NewIdentityRegistry(NameReject, 0)
	exists := func(n string) bool { return n == "Alice" }

	r.Resolve("Alice", "c1", noPlayers, time.Now())
	if _, err := r.Resolve("Alice", "c2", exists, time.Now()); err != ErrNameTaken {
		t.Errorf("Expected ErrNameTaken, got %v", err)
	}
	if _, ok := r.NameOf("c2"); ok {
		t.Error("Rejected connection must not be mapped")
	}
}

// TestResolveRenameReleasesPrevious verifies a connection owns one name at a time
func TestResolveRenameReleasesPrevious(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, 0)

	r.Resolve("Alice", "c1", noPlayers, time.Now())
	res, _ := r.Resolve("Bob", "c1", noPlayers, time.Now())

	if res.Released != "Alice" {
		t.Errorf("Expected Alice released, got %q", res.Released)
	}
	if _, ok := r.ConnOf("Alice"); ok {
		t.Error("Old name should be unmapped")
	}
	if name, _ := r.NameOf("c1"); name != "Bob" {
		t.Errorf("Expected c1 -> Bob, got %q", name)
	}
}

// TestReleaseOnlyOwner guards against a stale connection evicting a name
func TestReleaseOnlyOwner(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, 0)
	now := time.Now()

	r.Resolve("Alice", "c1", noPlayers, now)
	// Simulate a lagging mapping: c2 thinks it is Alice but c1 owns the name
	r.connToName["c2"] = "Alice"

	name, owned := r.Release("c2", now)
	if name != "Alice" || owned {
		t.Errorf("Stale release should not own the name, got %q owned=%v", name, owned)
	}
	if conn, _ := r.ConnOf("Alice"); conn != "c1" {
		t.Error("Owner mapping must survive a stale release")
	}

	name, owned = r.Release("c1", now)
	if name != "Alice" || !owned {
		t.Errorf("Owner release failed: %q owned=%v", name, owned)
	}
	if _, ok := r.ConnOf("Alice"); ok {
		t.Error("Name should be free after owner release")
	}

	if _, owned := r.Release("unknown", now); owned {
		t.Error("Unknown connection cannot own a name")
	}
}

// TestNameHold verifies a held name is contended until the window lapses
func TestNameHold(t *testing.T) {
	r := NewIdentityRegistry(NameSuffix, time.Minute)
	now := time.Now()

	r.Resolve("Alice", "c1", noPlayers, now)
	r.Release("c1", now)

	res, _ := r.Resolve("Alice", "c2", noPlayers, now.Add(30*time.Second))
	if res.Name != "Alice1" {
		t.Errorf("Held name should be suffixed, got %q", res.Name)
	}

	res, _ = r.Resolve("Alice", "c3", noPlayers, now.Add(2*time.Minute))
	if res.Name != "Alice" {
		t.Errorf("Expired hold should free the name, got %q", res.Name)
	}
}
