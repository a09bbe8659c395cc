package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextrouter/nextrouter/internal/policy"
)

// Vars flattens data into the variable set legacy templates use: WAN0,
// WAN0_MARK, WAN0_TABLE, WAN0_GATEWAY, LAN0, LOCAL_IP, LAN_NETWORK and so on.
// Keys for an absent second uplink are not defined, so a template written for
// two uplinks fails on a single-uplink topology.
func Vars(data Data) map[string]string {
	lan := data.LAN
	vars := map[string]string{
		"NFT_FAMILY":    data.Family,
		"NFT_TABLE":     data.Table,
		"LAN0":          data.LANInterface,
		"LOCAL_IP":      lan.Gateway.String(),
		"LAN_GATEWAY":   lan.Gateway.String(),
		"LAN_NETWORK":   lan.CIDR(),
		"LAN_ADDRESS":   lan.Prefix.Addr().String(),
		"LAN_PREFIX":    strconv.Itoa(lan.Bits()),
		"LAN_NETMASK":   lan.Netmask.String(),
		"LAN_BROADCAST": lan.Broadcast.String(),
		"DNS_SERVERS":   strings.Join(data.DNS, ","),
		"DOMAIN":        data.Domain,
		"LEASE_TIME":    leaseTime(data.LeaseTime),
		"WAN_COUNT":     strconv.Itoa(len(data.Uplinks)),
	}

	if data.DHCP != nil {
		vars["DHCP_START"] = data.DHCP.Start.String()
		vars["DHCP_END"] = data.DHCP.End.String()
	}

	var ifaces []string
	for i, u := range data.Uplinks {
		prefix := fmt.Sprintf("WAN%d", i)
		vars[prefix] = u.Interface
		vars[prefix+"_NAME"] = u.Name
		vars[prefix+"_MARK"] = u.MarkHex()
		vars[prefix+"_TABLE"] = strconv.Itoa(u.Table)
		vars[prefix+"_GATEWAY"] = u.Gateway
		vars[prefix+"_SOURCES"] = strings.Join(u.Sources, ", ")
		vars[prefix+"_RX_COUNTER"] = u.CounterName(policy.DirectionRx)
		vars[prefix+"_TX_COUNTER"] = u.CounterName(policy.DirectionTx)
		ifaces = append(ifaces, `"`+u.Interface+`"`)
	}
	vars["WAN_IFACES"] = strings.Join(ifaces, ", ")

	return vars
}
