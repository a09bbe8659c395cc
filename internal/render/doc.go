// Package render turns a routing plan into the nftables ruleset and DHCP
// server configuration files.
package render
