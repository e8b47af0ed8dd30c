/**
 * @description
 * Supported settlement networks. Every wallet, transfer and bridge call is tagged
 * with one of these values; anything else is rejected at the edge.
 */
package domain

import (
	"fmt"
	"strings"
)

// Network is a blockchain network a wallet lives on.
type Network string

const (
	NetworkBase      Network = "BASE"
	NetworkPolygon   Network = "POLYGON"
	NetworkAvalanche Network = "AVALANCHE"
)

// DefaultNetwork is used when a request omits the network.
const DefaultNetwork = NetworkBase

// Networks lists every supported network in display order.
var Networks = []Network{NetworkBase, NetworkPolygon, NetworkAvalanche}

// ParseNetwork normalizes and validates a network name. An empty value yields DefaultNetwork.
func ParseNetwork(raw string) (Network, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return DefaultNetwork, nil
	}
	n := Network(trimmed)
	if !n.Valid() {
		return "", fmt.Errorf("unsupported network %q", raw)
	}
	return n, nil
}

// Valid reports whether n is one of the supported networks.
func (n Network) Valid() bool {
	switch n {
	case NetworkBase, NetworkPolygon, NetworkAvalanche:
		return true
	}
	return false
}

// CircleBlockchain maps the network to the Circle testnet blockchain identifier.
func (n Network) CircleBlockchain() string {
	switch n {
	case NetworkPolygon:
		return "MATIC-AMOY"
	case NetworkAvalanche:
		return "AVAX-FUJI"
	default:
		return "BASE-SEPOLIA"
	}
}

// ModularChain maps the network to the chain identifier used by the modular wallet SDK.
func (n Network) ModularChain() string {
	switch n {
	case NetworkPolygon:
		return "polygon-amoy"
	case NetworkAvalanche:
		return "avalanche-fuji"
	default:
		return "base-sepolia"
	}
}
