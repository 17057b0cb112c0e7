package cache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissAndHit(t *testing.T) {
	c := New(10)
	_, ok := c.Lookup("www.example.com.", dns.TypeA, dns.ClassINET)
	assert.False(t, ok)

	msg := new(dns.Msg)
	msg.SetQuestion("www.example.com.", dns.TypeA)
	c.Update("www.example.com.", dns.TypeA, dns.ClassINET, msg, time.Minute)

	got, ok := c.Lookup("www.example.com.", dns.TypeA, dns.ClassINET)
	require.True(t, ok)
	assert.Equal(t, "www.example.com.", got.Question[0].Name)
}

func TestLookupExpires(t *testing.T) {
	c := New(10)
	msg := new(dns.Msg)
	msg.SetQuestion("www.example.com.", dns.TypeA)
	c.Update("www.example.com.", dns.TypeA, dns.ClassINET, msg, -1*time.Second)

	_, ok := c.Lookup("www.example.com.", dns.TypeA, dns.ClassINET)
	assert.False(t, ok)
}

func TestPruneEvictsOldest(t *testing.T) {
	c := New(2)
	for _, name := range []string{"a.example.", "b.example.", "c.example."} {
		msg := new(dns.Msg)
		msg.SetQuestion(name, dns.TypeA)
		c.Update(name, dns.TypeA, dns.ClassINET, msg, time.Minute)
	}

	_, ok := c.Lookup("a.example.", dns.TypeA, dns.ClassINET)
	assert.False(t, ok, "oldest entry must be evicted once maxSize is exceeded")

	_, ok = c.Lookup("c.example.", dns.TypeA, dns.ClassINET)
	assert.True(t, ok)
}

func TestBestDelegationFindsClosestEnclosingZone(t *testing.T) {
	c := New(10)

	referral := new(dns.Msg)
	referral.SetQuestion("foo.example.com.", dns.TypeA)
	ns, _ := dns.NewRR("example.com. 3600 IN NS ns1.example.com.")
	referral.Ns = append(referral.Ns, ns)
	glue, _ := dns.NewRR("ns1.example.com. 3600 IN A 192.0.2.1")
	referral.Extra = append(referral.Extra, glue)

	c.Update("foo.example.com.", dns.TypeA, dns.ClassINET, referral, time.Minute)

	name, nsNames, targets, found := c.delegations.BestDelegation("foo.example.com.", dns.ClassINET)
	require.True(t, found)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, []string{"ns1.example.com."}, nsNames)
	require.Len(t, targets, 1)
	assert.Equal(t, "192.0.2.1", targets[0].Addr().String())
}

func TestBestDelegationNotFoundWithoutReferral(t *testing.T) {
	c := New(10)
	_, _, _, found := c.delegations.BestDelegation("foo.example.com.", dns.ClassINET)
	assert.False(t, found)
}
