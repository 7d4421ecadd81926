package ipfs

import "testing"

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, 3); err == nil {
		t.Fatal("empty replica list accepted")
	}

	urls := make([]string, MaxReplicas+1)
	for i := range urls {
		urls[i] = "http://127.0.0.1:5001"
	}
	if _, err := New(urls, 3); err == nil {
		t.Fatal("oversized replica list accepted")
	}

	c, err := New(urls[:2], 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(c.shells) != 2 {
		t.Fatalf("shells = %d, want 2", len(c.shells))
	}
}
