package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

func TestDefinitionsCoverEveryKind(t *testing.T) {
	require.Len(t, Definitions(), len(publish.Kinds))
	for _, k := range publish.Kinds {
		def, ok := Lookup(k)
		require.True(t, ok, k)
		assert.Equal(t, string(k), def.Name)
		assert.NotEmpty(t, def.Version, k)
		assert.NotZero(t, def.GasLimit, k)
		assert.NotEmpty(t, def.Roles, k)
	}
	_, ok := Lookup("Escrow")
	assert.False(t, ok)
}

func TestPackMatchesSpecs(t *testing.T) {
	admin := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	p := DefaultParams()
	for _, spec := range Specs(p) {
		def, _ := Lookup(spec.Kind)
		values := make([]any, len(spec.Args))
		for i, arg := range spec.Args {
			if arg.IsContract() || arg.IsPrincipal() {
				values[i] = admin
				continue
			}
			values[i] = arg.Value()
		}
		data, err := def.Pack(values...)
		require.NoError(t, err, spec.Kind)
		assert.Len(t, data, 32*len(values), spec.Kind)
	}

	def, _ := Lookup(publish.PropertyOracle)
	_, err := def.Pack(admin)
	assert.Error(t, err, "missing max staleness")
	_, err = def.Pack(admin, big.NewInt(1), admin)
	assert.Error(t, err)
}
