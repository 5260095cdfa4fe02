package limits

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestPerIPBurstExhausts(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst: 3,
		IPRate:  0.001, // effectively no refill within the test
		Logger:  zerolog.Nop(),
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d rejected within burst", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("attempt beyond burst allowed")
	}

	// Other IPs have their own bucket.
	if !l.Allow("10.0.0.2") {
		t.Fatalf("fresh ip rejected")
	}
}

func TestGlobalLimitCapsAllIPs(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst:     100,
		IPRate:      100,
		GlobalBurst: 2,
		GlobalRate:  0.001,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.2") {
		t.Fatalf("attempts within global burst rejected")
	}
	if l.Allow("10.0.0.3") {
		t.Fatalf("attempt beyond global burst allowed")
	}
}
