package dnsresolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCachePolicyObeysTTL(t *testing.T) {
	policy := DefaultCachePolicy()
	rs := RecordSet{Values: []string{"192.0.2.1"}, TTL: 42 * time.Second}
	assert.Equal(t, 42*time.Second, policy(rs))
}

func TestObeyResponderAdvice(t *testing.T) {
	policy := ObeyResponderAdvice(5 * time.Minute)

	t.Run("positive answer keeps its own TTL", func(t *testing.T) {
		rs := RecordSet{Values: []string{"192.0.2.1"}, TTL: 42 * time.Second}
		assert.Equal(t, 42*time.Second, policy(rs))
	})
	t.Run("negative answer uses the negative TTL", func(t *testing.T) {
		rs := RecordSet{TTL: 0}
		assert.Equal(t, 5*time.Minute, policy(rs))
	})
}
