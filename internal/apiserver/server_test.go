// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package apiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/loader"
	compilemetrics "grimm.is/flywall/internal/metrics/compile"
)

const sampleHCL = `
address "lan-net" {
  kind = "network"
  ip   = "192.168.1.0/24"
}

interface "eth0" {}

policy_ruleset "edge" {
  family = "ipv4"
  rule {
    label  = "deny-rest"
    action = "deny"
  }
}

firewall "gw1" {
  interfaces = ["eth0"]
  policies   = ["edge"]
}
`

func newTestServer(t *testing.T) *httptest.Server {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)
	srv := NewServer(store, compilemetrics.NewMetrics())
	return httptest.NewServer(srv.Routes())
}

func TestHandleCompileReturnsCompiledOutput(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(compileRequest{Firewall: "gw1", Family: "v4", Backend: "iptables"})
	resp, err := http.Post(ts.URL+"/compile", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out compileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "gw1", out.Firewall)
	assert.Contains(t, out.Output, "#!/bin/sh")
}

func TestHandleCompileRejectsUnknownFirewall(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(compileRequest{Firewall: "does-not-exist"})
	resp, err := http.Post(ts.URL+"/compile", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCompileRejectsMissingFirewallField(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleMetricsServesPrometheusExposition(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleDebugWSAcceptsConnection(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/debug"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
}
