// Package discovery resolves a server endpoint over mDNS/DNS-SD.
//
// A server that announces itself as, for example, _echolink._tcp in the
// local domain can be located with Resolve instead of a fixed host and
// port. The first announcement that carries a usable address wins.
//
// Addresses are chosen in this order: first IPv4 address, first IPv6
// address, then the announced host name.
package discovery
