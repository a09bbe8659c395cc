// Package policy derives the dual-WAN routing plan from a topology.
//
// The uplink at index i is assigned packet mark i+1 and routing table i+1.
// Each table holds a default route through its uplink plus the LAN connected
// route. Rules select a table by fwmark (priority 1000+i) or by LAN source
// address (priority 2000+n). Assignment depends only on uplink order, so a
// plan can be rebuilt at any time and compared against the kernel.
package policy
