package uerr

import (
	"errors"
	"testing"
)

func TestChainf(t *testing.T) {
	base := errors.New("base error")

	err := Chainf(base, "opening %s", "file.txt")
	if !errors.Is(err, base) {
		t.Fatal("chained error should relate (errors.Is) to base")
	}

	err2 := Chainf(err, "retrying")
	if !errors.Is(err2, base) {
		t.Fatal("doubly chained error should still relate to base")
	}

	if !CauseMatches(err2, func(e error) bool { return e == base }) {
		t.Fatal("CauseMatches should find base in the chain")
	}
	if !CauseMatchesString(err2, "opening file.txt") {
		t.Fatal("CauseMatchesString should find the inner message")
	}
}

func TestChainfNilCause(t *testing.T) {
	err := Chainf(nil, "no cause here")
	if err.Error() != "no cause here" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if errors.Unwrap(err) != nil {
		t.Fatal("expected nil Unwrap with no cause")
	}
}
