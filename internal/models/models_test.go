package models

import "testing"

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("zoe", "adam")
	if a != "adam" || b != "zoe" {
		t.Fatalf("expected adam, zoe; got %s, %s", a, b)
	}

	a, b = CanonicalPair("adam", "zoe")
	if a != "adam" || b != "zoe" {
		t.Fatalf("expected order to be kept, got %s, %s", a, b)
	}
}

func TestPairKeyIsDirectionIndependent(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Fatal("expected the same key for both directions")
	}
	if PairKey("alice", "bob") == PairKey("alice", "carol") {
		t.Fatal("expected different pairs to have different keys")
	}
}

func TestLoveNoteHasParty(t *testing.T) {
	note := &LoveNote{SenderID: "alice", RecipientID: "bob"}

	if !note.HasParty("alice") || !note.HasParty("bob") {
		t.Fatal("expected both parties to be recognized")
	}
	if note.HasParty("eve") {
		t.Fatal("expected outsider to be rejected")
	}
}
