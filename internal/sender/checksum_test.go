package sender

import "testing"

func TestGenerateConversationID_OrderIndependent(t *testing.T) {
	a := GenerateConversationID([]string{"u1", "u2"})
	b := GenerateConversationID([]string{"u2", "u1"})
	if a != b {
		t.Fatalf("expected order-independent ids, got %q vs %q", a, b)
	}
}

func TestChecksum_ChangesWithMembership(t *testing.T) {
	a := Checksum([]string{"s1", "s2"})
	b := Checksum([]string{"s1", "s2", "s3"})
	if a == b {
		t.Fatalf("expected checksum to change when a session id is added")
	}
}

func TestChecksum_StableUnderShuffle(t *testing.T) {
	a := Checksum([]string{"s1", "s2", "s3"})
	b := Checksum([]string{"s3", "s1", "s2"})
	if a != b {
		t.Fatalf("expected checksum to be invariant under shuffling, got %q vs %q", a, b)
	}
}
