// Package mirror picks the URL to try for each download attempt of a block.
//
// Blocks are hosted on a CDN with several equivalent front hosts that serve
// the same path over http and https. Rotating scheme and host between attempts
// routes around a single misbehaving edge.
//
// # Ring
//
// The candidate for attempt n is chosen by n mod 8:
//
//	0  original URL
//	1  https, mirror 3
//	2  mirror 3
//	3  https, mirror 2
//	4  mirror 2
//	5  https, mirror 1
//	6  mirror 1
//	7  https, original host
//
// # Usage
//
//	for attempt := 0; attempt < budget; attempt++ {
//	    url := mirror.Candidate(block.URL, attempt)
//	    ...
//	}
package mirror

import "net/url"

// RingSize is the number of distinct candidates before the ring repeats.
const RingSize = 8

// DefaultMirrors are the alternate hosts of the default CDN, in mirror order.
var DefaultMirrors = [3]string{"i1.hdslb.com", "i2.hdslb.com", "i3.hdslb.com"}

// DefaultPolicy rotates over DefaultMirrors.
var DefaultPolicy = Policy{Mirrors: DefaultMirrors}

// Policy maps attempt numbers to candidate URLs. The zero value never
// substitutes hosts and only alternates schemes.
type Policy struct {
	// Mirrors are mirror 1, 2 and 3 of the ring. An empty entry keeps the
	// original host.
	Mirrors [3]string
}

// Candidate returns the URL to use for the given attempt of base under
// DefaultPolicy.
func Candidate(base string, attempt int) string {
	return DefaultPolicy.Candidate(base, attempt)
}

// Candidate returns the URL to use for the given attempt of base. It is pure:
// the same inputs always give the same URL. A base that does not parse as a
// URL is returned unchanged.
func (p Policy) Candidate(base string, attempt int) string {
	step := attempt % RingSize
	if step < 0 {
		step += RingSize
	}
	if step == 0 {
		return base
	}

	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}

	var https bool
	var host string
	switch step {
	case 1:
		https, host = true, p.Mirrors[2]
	case 2:
		host = p.Mirrors[2]
	case 3:
		https, host = true, p.Mirrors[1]
	case 4:
		host = p.Mirrors[1]
	case 5:
		https, host = true, p.Mirrors[0]
	case 6:
		host = p.Mirrors[0]
	case 7:
		https = true
	}

	if https {
		u.Scheme = "https"
	}
	if host != "" {
		u.Host = host
	}
	return u.String()
}
