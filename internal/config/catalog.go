package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AddressCatalog is the curated, versioned map of known counterparty
// addresses used to tag exchange deposits/withdrawals, bridges, and DEX
// routers. Collectors stamp the catalog version into classified events so
// history can be re-tagged when the catalog drifts.
type AddressCatalog struct {
	Version   string              `yaml:"version"`
	Exchanges map[string][]string `yaml:"exchanges"` // name -> addresses
	Bridges   map[string][]string `yaml:"bridges"`
	Routers   map[string][]string `yaml:"routers"`

	exchangeIndex map[string]string
	bridgeIndex   map[string]string
	routerIndex   map[string]string
}

// Counterparty kinds returned by Classify.
const (
	KindExchange = "exchange"
	KindBridge   = "bridge"
	KindRouter   = "router"
)

func LoadCatalog(path string) (*AddressCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read address catalog: %w", err)
	}
	var cat AddressCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse address catalog: %w", err)
	}
	if cat.Version == "" {
		return nil, fmt.Errorf("address catalog %s has no version", path)
	}
	cat.buildIndexes()
	return &cat, nil
}

func (c *AddressCatalog) buildIndexes() {
	c.exchangeIndex = indexAddresses(c.Exchanges)
	c.bridgeIndex = indexAddresses(c.Bridges)
	c.routerIndex = indexAddresses(c.Routers)
}

func indexAddresses(groups map[string][]string) map[string]string {
	idx := make(map[string]string)
	for name, addrs := range groups {
		for _, a := range addrs {
			idx[strings.ToLower(a)] = name
		}
	}
	return idx
}

// Classify returns the counterparty kind and label for an address, or
// ("", "", false) when the address is not in the catalog.
func (c *AddressCatalog) Classify(address string) (kind, label string, ok bool) {
	key := strings.ToLower(address)
	if name, hit := c.exchangeIndex[key]; hit {
		return KindExchange, name, true
	}
	if name, hit := c.bridgeIndex[key]; hit {
		return KindBridge, name, true
	}
	if name, hit := c.routerIndex[key]; hit {
		return KindRouter, name, true
	}
	return "", "", false
}

// Size reports how many addresses are indexed.
func (c *AddressCatalog) Size() int {
	return len(c.exchangeIndex) + len(c.bridgeIndex) + len(c.routerIndex)
}

// IsExchange reports whether the address is a known exchange hot wallet.
func (c *AddressCatalog) IsExchange(address string) bool {
	_, ok := c.exchangeIndex[strings.ToLower(address)]
	return ok
}
