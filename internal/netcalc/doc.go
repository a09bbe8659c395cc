// Package netcalc expands IPv4 CIDR strings into the addresses a router needs:
// network, netmask, broadcast, gateway and usable host span.
package netcalc
