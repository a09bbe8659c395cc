// Package probe checks uplink gateways with ICMP echo and the LAN resolver
// with a DNS query.
package probe
