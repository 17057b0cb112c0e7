package dnsresolver

import (
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSet_fromMsg(t *testing.T) {
	cases := []struct {
		name     string
		question dns.Question
		msg      *dns.Msg
		want     RecordSet
		err      error
	}{
		{
			name:     "empty",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg:      &dns.Msg{},
			err:      ErrNXDomain,
		},
		{
			name:     "missing",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeAAAA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					A(t, "example.com.", 300, "192.0.2.1"), // but we requested AAAA
				},
			},
			err: ErrNXDomain,
		},
		{
			name:     "trivial",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					A(t, "example.com.", 300, "192.0.2.1"),
				},
			},
			want: RecordSet{
				TTL:    300 * time.Second,
				Values: []string{"192.0.2.1"},
			},
		},
		{
			name:     "cname_in_answer",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					CNAME(t, "example.com.", 300, "www.example.com."),
					A(t, "www.example.com.", 200, "192.0.2.1"),
				},
			},
			want: RecordSet{
				TTL:    200 * time.Second,
				Values: []string{"192.0.2.1"},
			},
		},
		{
			name:     "cname_to_two_records",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					CNAME(t, "example.com.", 300, "www.example.com."),
					A(t, "www.example.com.", 200, "192.0.2.1"),
					A(t, "www.example.com.", 199, "192.0.2.2"),
				},
			},
			want: RecordSet{
				TTL: 199 * time.Second,
				Values: []string{
					"192.0.2.1",
					"192.0.2.2",
				},
			},
		},
		{
			name:     "recursive_cname",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					CNAME(t, "example.com.", 300, "www.example.com."),
					CNAME(t, "www.example.com.", 199, "foo.www.example.com."),
					CNAME(t, "foo.www.example.com.", 200, "bar.www.example.com."),
					A(t, "bar.www.example.com.", 200, "192.0.2.1"),
				},
			},
			want: RecordSet{
				TTL:    199 * time.Second,
				Values: []string{"192.0.2.1"},
			},
		},
		{
			name:     "circular_cname",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg: &dns.Msg{
				Answer: []dns.RR{
					CNAME(t, "example.com.", 300, "www.example.com."),
					CNAME(t, "www.example.com.", 199, "example.com."),
				},
			},
			err: ErrCircular,
		},
		{
			name:     "nxdomain_rcode",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA},
			msg:      &dns.Msg{MsgHdr: dns.MsgHdr{Rcode: dns.RcodeNameError}},
			err:      ErrNXDomain,
		},
	}

	t.Parallel()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var set RecordSet
			err := set.fromMsg(tc.question, tc.msg)

			if tc.err != nil {
				require.True(t, errors.Is(err, tc.err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want.Values, set.Values)
			assert.Equal(t, tc.want.TTL, set.TTL)
		})
	}
}
