package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
)

func spec(kind publish.Kind, deps ...publish.Kind) publish.ContractSpec {
	s := publish.ContractSpec{Kind: kind, Args: []publish.Arg{publish.ArgPrincipal("deployer")}}
	for _, d := range deps {
		s.Args = append(s.Args, publish.ArgContract(d))
	}
	return s
}

func TestResolveOrderVaultLast(t *testing.T) {
	order, err := ResolveOrder([]publish.ContractSpec{
		spec(publish.PropertyOracle),
		spec(publish.ComplianceModule),
		spec(publish.InvestmentPool),
		spec(publish.Vault, publish.PropertyOracle, publish.ComplianceModule, publish.InvestmentPool),
	})
	require.NoError(t, err)
	require.Len(t, order, 4)
	assert.Equal(t, publish.Vault, order[3])
}

func TestResolveOrderDefaultSpecs(t *testing.T) {
	order, err := ResolveOrder(contracts.Specs(contracts.DefaultParams()))
	require.NoError(t, err)
	assert.Equal(t, []publish.Kind{
		publish.PropertyOracle,
		publish.ComplianceModule,
		publish.InvestmentPool,
		publish.Vault,
	}, order)
}

func TestResolveOrderDeclarationOrderBreaksTies(t *testing.T) {
	// Vault declared first but must still wait for its dependencies, which
	// keep their relative declaration order.
	specs := []publish.ContractSpec{
		spec(publish.Vault, publish.InvestmentPool, publish.PropertyOracle),
		spec(publish.InvestmentPool, publish.ComplianceModule),
		spec(publish.PropertyOracle),
		spec(publish.ComplianceModule),
	}
	first, err := ResolveOrder(specs)
	require.NoError(t, err)
	assert.Equal(t, []publish.Kind{
		publish.PropertyOracle,
		publish.ComplianceModule,
		publish.InvestmentPool,
		publish.Vault,
	}, first)

	for i := 0; i < 10; i++ {
		again, err := ResolveOrder(specs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveOrderCycle(t *testing.T) {
	_, err := ResolveOrder([]publish.ContractSpec{
		spec(publish.PropertyOracle),
		spec(publish.InvestmentPool, publish.Vault),
		spec(publish.Vault, publish.InvestmentPool),
	})
	var cyc *CyclicDependencyError
	require.True(t, errors.As(err, &cyc), "got %v", err)
	assert.Contains(t, cyc.Members, publish.InvestmentPool)
	assert.Contains(t, cyc.Members, publish.Vault)
	assert.NotContains(t, cyc.Members, publish.PropertyOracle)
}

func TestResolveOrderSelfDependency(t *testing.T) {
	_, err := ResolveOrder([]publish.ContractSpec{spec(publish.Vault, publish.Vault)})
	var cyc *CyclicDependencyError
	require.True(t, errors.As(err, &cyc))
}

func TestResolveOrderConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		specs []publish.ContractSpec
	}{
		{"undeclared dependency", []publish.ContractSpec{spec(publish.Vault, publish.PropertyOracle)}},
		{"duplicate", []publish.ContractSpec{spec(publish.Vault), spec(publish.Vault)}},
		{"empty kind", []publish.ContractSpec{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveOrder(tt.specs)
			var cfgErr *publish.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

// Random DAGs: edges only point at lower indices, then the declaration
// order is shuffled.
func TestResolveOrderRandomAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(12)
		specs := make([]publish.ContractSpec, n)
		for i := 0; i < n; i++ {
			var deps []publish.Kind
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, publish.Kind(fmt.Sprintf("K%d", j)))
				}
			}
			specs[i] = spec(publish.Kind(fmt.Sprintf("K%d", i)), deps...)
		}
		rng.Shuffle(n, func(i, j int) { specs[i], specs[j] = specs[j], specs[i] })

		order, err := ResolveOrder(specs)
		require.NoError(t, err)
		require.Len(t, order, n)

		pos := map[publish.Kind]int{}
		for i, k := range order {
			pos[k] = i
		}
		for _, s := range specs {
			for _, d := range s.Deps() {
				assert.Less(t, pos[d], pos[s.Kind], "%s must precede %s", d, s.Kind)
			}
		}
	}
}

func TestResolveOrderRandomCyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 100; round++ {
		n := 2 + rng.Intn(8)
		specs := make([]publish.ContractSpec, n)
		for i := 0; i < n; i++ {
			// i depends on i+1 mod n closes a ring through every node.
			specs[i] = spec(publish.Kind(fmt.Sprintf("K%d", i)), publish.Kind(fmt.Sprintf("K%d", (i+1)%n)))
		}
		rng.Shuffle(n, func(i, j int) { specs[i], specs[j] = specs[j], specs[i] })

		_, err := ResolveOrder(specs)
		var cyc *CyclicDependencyError
		require.True(t, errors.As(err, &cyc))
		assert.GreaterOrEqual(t, len(cyc.Members), 2)
	}
}
