// Package manifest holds the durable record of a deployment: what was
// deployed where, by whom, and who administers it now.
package manifest

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

// DeployedContract is written once when a deployment is mined and never
// edited afterwards.
type DeployedContract struct {
	Kind            publish.Kind   `json:"kind"`
	Name            string         `json:"name,omitempty"`
	Version         string         `json:"version,omitempty"`
	Address         common.Address `json:"address"`
	ConstructorArgs []string       `json:"constructorArgs"`
	DeploymentTx    common.Hash    `json:"deploymentTx"`
	BlockNumber     uint64         `json:"blockNumber"`
	DeployedAt      time.Time      `json:"deployedAt"`
}

// Manifest is the single source of truth for a network. Fields are only ever
// set, never cleared, except CurrentOwner, LastOwnershipTransferAt and
// Unverified which ownership transfer maintains.
type Manifest struct {
	Network   string                            `json:"network"`
	ChainID   uint64                            `json:"chainId,omitempty"`
	Deployer  common.Address                    `json:"deployer"`
	Timestamp time.Time                         `json:"timestamp"`
	Contracts map[publish.Kind]DeployedContract `json:"contracts"`

	CurrentOwner            common.Address `json:"currentOwner"`
	LastOwnershipTransferAt *time.Time     `json:"lastOwnershipTransferAt,omitempty"`

	// Unverified is set when a mutating phase could not prove the chain
	// matches this record. Run verify before trusting CurrentOwner.
	Unverified bool `json:"unverified,omitempty"`
}

// New returns an empty manifest for a first run.
func New(network string) *Manifest {
	return &Manifest{
		Network:   network,
		Contracts: map[publish.Kind]DeployedContract{},
	}
}

// IsZero reports whether nothing has been recorded yet.
func (m *Manifest) IsZero() bool {
	return m.Deployer == (common.Address{}) && len(m.Contracts) == 0
}

// Has reports whether kind is already deployed according to the manifest.
func (m *Manifest) Has(kind publish.Kind) bool {
	_, ok := m.Contracts[kind]
	return ok
}

func (m *Manifest) Address(kind publish.Kind) (common.Address, bool) {
	c, ok := m.Contracts[kind]
	return c.Address, ok
}

// Record adds a deployment. An existing entry for the same kind is kept.
func (m *Manifest) Record(c DeployedContract) bool {
	if m.Contracts == nil {
		m.Contracts = map[publish.Kind]DeployedContract{}
	}
	if _, ok := m.Contracts[c.Kind]; ok {
		return false
	}
	m.Contracts[c.Kind] = c
	return true
}

// Owner is the principal expected to hold the admin roles: CurrentOwner once
// set, otherwise the deployer.
func (m *Manifest) Owner() common.Address {
	if m.CurrentOwner != (common.Address{}) {
		return m.CurrentOwner
	}
	return m.Deployer
}

// Kinds returns the recorded kinds in the canonical kind order, followed by
// any unknown kinds sorted by name.
func (m *Manifest) Kinds() []publish.Kind {
	out := make([]publish.Kind, 0, len(m.Contracts))
	for _, k := range publish.Kinds {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	var extra []publish.Kind
	for k := range m.Contracts {
		if !k.Valid() {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// ContractAddresses returns every recorded contract address.
func (m *Manifest) ContractAddresses() map[common.Address]publish.Kind {
	out := make(map[common.Address]publish.Kind, len(m.Contracts))
	for k, c := range m.Contracts {
		out[c.Address] = k
	}
	return out
}
