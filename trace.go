package dnsresolver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Trace reports, in chronological order, every exchange a Query call
// performed to retrieve a RecordSet: the top-level query's own target
// walk interleaved with any priming sub-query exchanges spawned along the
// way. Unlike the nested call tree a fully recursive resolver would log,
// the iterator module only ever spawns a sub-query to prime a nameserver's
// address before its own exchanges begin (component F's PRIME phase), so a
// flat chronological log carries the same information without a
// synthetic tree shape.
type Trace struct {
	Queries []*TraceNode
}

func (t *Trace) add(n *TraceNode) {
	t.Queries = append(t.Queries, n)
}

// Dump returns a string representation of the trace.
//
// The output is meant for human consumption and may change between releases of
// this package without notice.
//
// Lines starting with a question mark indicate DNS requests. Lines starting
// with an exclamation mark indicate DNS responses. Lines starting with an X
// indicate network errors or a response rcode other than NOERROR.
func (t *Trace) Dump() string {
	buf := &bytes.Buffer{}

	for _, n := range t.Queries {
		n.dump(buf, 0)
	}

	return buf.String()
}

// TraceNode records one exchange: the question sent, the server it was
// sent to, and either a reply message or an error.
type TraceNode struct {
	Question dns.Question
	Server   string

	Message *dns.Msg
	RTT     time.Duration
	Error   error
}

func (n *TraceNode) dump(w io.Writer, depth int) {
	if n == nil {
		return
	}

	io.WriteString(w, strings.Repeat(" ", depth*4))
	fmt.Fprintf(w, "? %s @%s %vms\n", n.fmt(&n.Question), n.Server, n.RTT.Milliseconds())

	if n.Error != nil {
		io.WriteString(w, strings.Repeat(" ", depth*4))
		if errors.Is(n.Error, ErrCircular) {
			fmt.Fprintf(w, "  X CYCLE\n")
		} else {
			fmt.Fprintf(w, "  X %v\n", n.Error)
		}
		return
	}

	msg := n.Message
	if msg.Rcode != dns.RcodeSuccess {
		io.WriteString(w, strings.Repeat(" ", depth*4))
		fmt.Fprintf(w, "  X %s\n", dns.RcodeToString[msg.Rcode])
	} else if empty(msg) {
		io.WriteString(w, strings.Repeat(" ", depth*4))
		fmt.Fprintf(w, "  ~ EMPTY\n")
	}

	for _, rr := range append(append([]dns.RR{}, msg.Answer...), msg.Ns...) {
		io.WriteString(w, strings.Repeat(" ", depth*4))
		fmt.Fprintf(w, "  ! %v\n", n.fmt(rr))
	}
}

var spaces = regexp.MustCompile(`[\t ]+`)

func (n *TraceNode) fmt(x fmt.Stringer) string {
	s := x.String()
	s = strings.TrimPrefix(s, ";")
	s = spaces.ReplaceAllString(s, " ")

	return s
}
