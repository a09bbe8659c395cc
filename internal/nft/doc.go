// Package nft loads the nextrouter nftables table, which restores and saves
// connection marks, marks new connections per uplink and masquerades on
// every WAN. The table is always replaced as a whole.
package nft
