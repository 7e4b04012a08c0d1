// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolve

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/objectmodel"
)

// startTestServer runs a minimal authoritative DNS server over UDP on the
// loopback interface, answering an A query for "present.example." with
// 192.0.2.1 (an AAAA query for it gets an empty success reply) and any
// query for "missing.example." with NXDOMAIN. It returns the server's
// address and a shutdown func.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("present.example.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("present.example. 60 IN A 192.0.2.1")
			m.Answer = append(m.Answer, rr)
		}
		w.WriteMsg(m)
	})
	mux.HandleFunc("missing.example.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Rcode = dns.RcodeNameError
		w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()

	// Give the server a moment to start accepting.
	time.Sleep(20 * time.Millisecond)

	return pc.LocalAddr().String(), func() { srv.Shutdown() }
}

func TestResolverPreprocessFillsResolvedAddresses(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	store := objectmodel.NewStore()
	dnsObj := store.Alloc(objectmodel.KindDNSName, "present.example.")
	dnsObj.Address = &objectmodel.AddressData{Hostname: "present.example.", ResolveRun: true}

	r := New(addr)
	err := r.Preprocess(store, nil)
	require.NoError(t, err)
	require.Len(t, dnsObj.Address.Resolved, 1)
	assert.Equal(t, "192.0.2.1", dnsObj.Address.Resolved[0].String())
}

func TestResolverPreprocessSkipsNonResolveAtRun(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	store := objectmodel.NewStore()
	dnsObj := store.Alloc(objectmodel.KindDNSName, "present.example.")
	dnsObj.Address = &objectmodel.AddressData{Hostname: "present.example.", ResolveRun: false}

	r := New(addr)
	err := r.Preprocess(store, nil)
	require.NoError(t, err)
	assert.Empty(t, dnsObj.Address.Resolved)
}

func TestResolverPreprocessErrorsOnNXDOMAIN(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	store := objectmodel.NewStore()
	dnsObj := store.Alloc(objectmodel.KindDNSName, "missing.example.")
	dnsObj.Address = &objectmodel.AddressData{Hostname: "missing.example.", ResolveRun: true}

	r := New(addr)
	err := r.Preprocess(store, nil)
	assert.Error(t, err)
}
