package x402

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// AssetInfo describes the default settlement asset on a network.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// defaultAssets maps a network to its default stablecoin. Endpoints may
// override the asset address; decimals follow the network default.
var defaultAssets = map[string]AssetInfo{
	"base": {
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Symbol:   "USDC",
		Decimals: 6,
	},
	"base-sepolia": {
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Symbol:   "USDC",
		Decimals: 6,
	},
	"avalanche": {
		Address:  "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Symbol:   "USDC",
		Decimals: 6,
	},
}

// DefaultAsset returns the default asset for a network.
func DefaultAsset(network string) (AssetInfo, error) {
	asset, ok := defaultAssets[network]
	if !ok {
		return AssetInfo{}, ErrUnsupportedNetwork
	}
	return asset, nil
}

// KnownNetworks lists the networks with a configured default asset.
func KnownNetworks() []string {
	networks := make([]string, 0, len(defaultAssets))
	for network := range defaultAssets {
		networks = append(networks, network)
	}
	return networks
}
