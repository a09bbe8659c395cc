// Package reconcile ties rendering, nftables, routing and the DHCP server
// into one apply flow, and runs it in a loop that re-applies on drift.
package reconcile
