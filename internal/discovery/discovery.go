// Package discovery resolves the set of peers a node should dial,
// either from a static list or from a Kubernetes headless service's DNS
// records, and provides the shared-token authenticator peers use to gate
// sync sessions.
package discovery

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
)

// PeerAddress is one discovered peer: its claimed node id, dial address,
// and, for statically configured peers, the Noise-IK static public key
// it is expected to present during the handshake.
type PeerAddress struct {
	NodeID       string
	Address      string
	StaticKey    [32]byte
	HasStaticKey bool
}

// Service resolves the current set of peers to sync with.
type Service interface {
	Discover() ([]PeerAddress, error)
}

// StaticList is a fixed, operator-configured peer set, parsed from
// entries of the form "node_id@host:port" or, to carry the peer's
// Noise-IK static public key so the handshake with it can succeed,
// "node_id@host:port#base64pubkey".
type StaticList struct {
	entries []string
}

// NewStaticList builds a StaticList from raw "node_id@host:port[#key]" entries.
func NewStaticList(entries []string) *StaticList {
	return &StaticList{entries: entries}
}

func (s *StaticList) Discover() ([]PeerAddress, error) {
	out := make([]PeerAddress, 0, len(s.entries))
	for _, e := range s.entries {
		nodeID, rest, ok := strings.Cut(e, "@")
		if !ok {
			return nil, fmt.Errorf("discovery: malformed static peer entry %q, want node_id@host:port[#base64pubkey]", e)
		}
		addr, keyB64, hasKey := strings.Cut(rest, "#")
		peer := PeerAddress{NodeID: nodeID, Address: addr}
		if hasKey {
			raw, err := base64.StdEncoding.DecodeString(keyB64)
			if err != nil {
				return nil, fmt.Errorf("discovery: peer %q: static key is not valid base64: %w", nodeID, err)
			}
			if len(raw) != 32 {
				return nil, fmt.Errorf("discovery: peer %q: static key must decode to 32 bytes, got %d", nodeID, len(raw))
			}
			copy(peer.StaticKey[:], raw)
			peer.HasStaticKey = true
		}
		out = append(out, peer)
	}
	return out, nil
}

// DNSDiscovery resolves peers by looking up the host addresses of a
// Kubernetes headless service, skipping the local node's own pod name.
type DNSDiscovery struct {
	SelfNodeID      string
	HeadlessService string
	Namespace       string
	Port            int
}

// NewDNSDiscovery builds a DNSDiscovery for the given headless service.
func NewDNSDiscovery(selfNodeID, headlessService, namespace string, port int) *DNSDiscovery {
	return &DNSDiscovery{SelfNodeID: selfNodeID, HeadlessService: headlessService, Namespace: namespace, Port: port}
}

func (d *DNSDiscovery) Discover() ([]PeerAddress, error) {
	fqdn := fmt.Sprintf("%s.%s.svc.cluster.local", d.HeadlessService, d.Namespace)

	ips, err := net.LookupHost(fqdn)
	if err != nil {
		return nil, fmt.Errorf("discovery: dns lookup failed for %s: %w", fqdn, err)
	}

	headlessPattern := fmt.Sprintf(".%s.%s.svc.cluster.local", d.HeadlessService, d.Namespace)
	var peers []PeerAddress

	for _, ip := range ips {
		names, err := net.LookupAddr(ip)
		if err != nil || len(names) == 0 {
			continue
		}

		var podFQDN string
		for _, name := range names {
			if strings.Contains(name, headlessPattern) {
				podFQDN = name
				break
			}
		}
		if podFQDN == "" {
			continue
		}

		parts := strings.Split(podFQDN, ".")
		if len(parts) < 2 {
			continue
		}
		podName := parts[0]
		if podName == d.SelfNodeID {
			continue
		}

		peers = append(peers, PeerAddress{
			NodeID:  podName,
			Address: fmt.Sprintf("%s.%s.%s.svc.cluster.local:%d", podName, d.HeadlessService, d.Namespace, d.Port),
		})
	}

	return peers, nil
}

// SharedTokenAuthenticator accepts any peer presenting the configured
// bearer token, compared in constant time. It satisfies sync.Authenticator.
type SharedTokenAuthenticator struct {
	token []byte
}

// NewSharedTokenAuthenticator builds an authenticator for the given token.
// An empty token means authentication is disabled: every peer is accepted.
func NewSharedTokenAuthenticator(token string) *SharedTokenAuthenticator {
	return &SharedTokenAuthenticator{token: []byte(token)}
}

func (a *SharedTokenAuthenticator) Authenticate(nodeID, token string) bool {
	if len(a.token) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(a.token, []byte(token)) == 1
}
