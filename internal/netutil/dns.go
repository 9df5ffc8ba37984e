// Package netutil holds the network helpers shared by the store client and
// the peer connection setup.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Public resolvers raced when the system resolver cannot answer.
var publicDNS = []string{
	"1.1.1.1",
	"1.0.0.1",
	"[2606:4700:4700::1111]",
	"8.8.8.8",
	"8.8.4.4",
	"[2001:4860:4860::8888]",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"208.67.220.220",
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// Lookup resolves host to a single IP, preferring IPv4. IP literals are
// returned unchanged. The system resolver is tried first, then public
// resolvers are raced and the first answer wins.
func Lookup(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), localTimeout)
	ip, err := lookupWith(ctx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	return raceLookup(host)
}

func raceLookup(host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func(server string) {
			ip, err := lookupWith(ctx, resolverFor(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public resolvers failed", host, failures)
}

func resolverFor(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
