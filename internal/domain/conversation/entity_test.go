package conversation

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanonicalPairIsOrderInsensitive(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	x1, y1 := CanonicalPair(a, b)
	x2, y2 := CanonicalPair(b, a)
	if x1 != x2 || y1 != y2 {
		t.Fatalf("expected the same pair, got (%s,%s) and (%s,%s)", x1, y1, x2, y2)
	}
	if x1.String() > y1.String() {
		t.Fatalf("expected sorted order, got (%s,%s)", x1, y1)
	}
}
