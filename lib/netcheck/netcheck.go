// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package netcheck probes whether this machine can host a game.
//
// Players behind restrictive NAT announce games that nobody outside
// their LAN can join; the lobby then shows a session that is
// effectively dead. The probe answers the question before the
// announcement: it gathers ICE candidates against the homeserver's
// STUN/TURN servers and classifies the result — directly reachable,
// reachable through the relay, or LAN-only.
//
// The probe is gather-only: no peer, no data, one PeerConnection that
// is closed as soon as gathering completes.
package netcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/muster-project/muster/messaging"
)

// gatherTimeout bounds candidate gathering. TURN allocation failures
// surface as an incomplete gather, so the probe must not wait forever.
const gatherTimeout = 15 * time.Second

// Config holds the ICE servers the probe gathers against.
type Config struct {
	// Servers is the STUN/TURN server list. Empty means host
	// candidates only, which can never verify more than LAN
	// reachability.
	Servers []webrtc.ICEServer

	// GatherTimeout overrides the default gathering bound when
	// positive.
	GatherTimeout time.Duration
}

// ConfigFromTURN builds a probe config from the homeserver's TURN
// credential response. A nil response (homeserver without TURN) yields
// a host-candidates-only probe.
func ConfigFromTURN(turn *messaging.TURNCredentialsResponse) Config {
	if turn == nil || len(turn.URIs) == 0 {
		return Config{}
	}
	return Config{
		Servers: []webrtc.ICEServer{
			{
				URLs:       turn.URIs,
				Username:   turn.Username,
				Credential: turn.Password,
			},
		},
	}
}

// Candidate is one gathered ICE candidate, reduced to the fields the
// verdict and the CLI output need.
type Candidate struct {
	// Class is the ICE candidate type: "host", "srflx", "prflx", or
	// "relay".
	Class string

	// Protocol is "udp" or "tcp".
	Protocol string

	Address string
	Port    uint16
}

// Report is the outcome of one probe.
type Report struct {
	Candidates []Candidate

	// Elapsed is how long gathering took. A probe that ran into the
	// timeout still reports the candidates found so far.
	Elapsed time.Duration

	// TimedOut is set when gathering hit the timeout before
	// completing. The verdict is then a lower bound.
	TimedOut bool
}

// Verdict classifies a report for the announce decision.
type Verdict string

const (
	// VerdictDirect: a server-reflexive candidate exists, so peers
	// can reach this machine through its NAT.
	VerdictDirect Verdict = "direct"

	// VerdictRelayed: only the TURN relay offers outside
	// reachability. Hosting works, with relay latency.
	VerdictRelayed Verdict = "relayed"

	// VerdictLANOnly: host candidates only. Peers outside the LAN
	// cannot join.
	VerdictLANOnly Verdict = "lan-only"

	// VerdictUnreachable: gathering produced no candidates at all.
	VerdictUnreachable Verdict = "unreachable"
)

// Hostable reports whether peers outside the LAN can join a game
// hosted here.
func (v Verdict) Hostable() bool {
	return v == VerdictDirect || v == VerdictRelayed
}

// Description returns the operator-facing explanation.
func (v Verdict) Description() string {
	switch v {
	case VerdictDirect:
		return "directly reachable: peers can connect through your NAT"
	case VerdictRelayed:
		return "reachable via TURN relay only: hosting works, expect relay latency"
	case VerdictLANOnly:
		return "LAN only: peers outside your network cannot join"
	case VerdictUnreachable:
		return "no ICE candidates gathered: check network interfaces"
	default:
		return string(v)
	}
}

// Verdict classifies the gathered candidates. Server-reflexive wins
// over relay: a machine with both can take direct connections and
// fall back to the relay.
func (r *Report) Verdict() Verdict {
	switch {
	case r.hasClass("srflx"):
		return VerdictDirect
	case r.hasClass("relay"):
		return VerdictRelayed
	case r.hasClass("host"):
		return VerdictLANOnly
	default:
		return VerdictUnreachable
	}
}

func (r *Report) hasClass(class string) bool {
	for _, candidate := range r.Candidates {
		if candidate.Class == class {
			return true
		}
	}
	return false
}

// Probe gathers ICE candidates against the configured servers and
// returns the classified report. A timeout is not an error: the
// report carries TimedOut and whatever candidates arrived.
func Probe(ctx context.Context, config Config) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Loopback candidates are included (matching how the lobby's
	// peers gather) and classify as host, so they can only ever
	// support a LAN-only verdict.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	defer pc.Close()

	// OnICECandidate fires from pion's goroutines; the final call
	// carries nil.
	var mu sync.Mutex
	var candidates []Candidate
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		mu.Lock()
		candidates = append(candidates, Candidate{
			Class:    candidate.Typ.String(),
			Protocol: candidate.Protocol.String(),
			Address:  candidate.Address,
			Port:     candidate.Port,
		})
		mu.Unlock()
	})

	// A data channel forces a media section into the SDP; without one
	// pion gathers nothing.
	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		return nil, fmt.Errorf("creating probe data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	started := time.Now()
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}

	timeout := config.GatherTimeout
	if timeout <= 0 {
		timeout = gatherTimeout
	}

	timedOut := false
	select {
	case <-gatherComplete:
	case <-time.After(timeout):
		timedOut = true
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return &Report{
		Candidates: candidates,
		Elapsed:    time.Since(started),
		TimedOut:   timedOut,
	}, nil
}
