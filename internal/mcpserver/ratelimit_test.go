package mcpserver

import "testing"

func TestRateLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	rl := newRateLimiter(60)
	for i := 0; i < 60; i++ {
		if !rl.allow() {
			t.Fatalf("call %d unexpectedly denied", i)
		}
	}
	if rl.allow() {
		t.Fatal("expected burst to be exhausted")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := newRateLimiter(60)
	for rl.allow() {
	}
	rl.bucket.lastRefill = rl.bucket.lastRefill.Add(-2 * 1e9)
	if !rl.allow() {
		t.Fatal("expected refill after elapsed time to allow a call")
	}
}
