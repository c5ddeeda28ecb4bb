package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolABI = `[{"type":"constructor","inputs":[{"name":"admin","type":"address"},{"name":"compliance","type":"address"},{"name":"minInvestment","type":"uint256"}]}]`

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDirLoad(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "PropertyOracle.bin", "6080604052\n")
	write(t, dir, "InvestmentPool.json", `{"contractName":"InvestmentPool","abi":`+poolABI+`,"bytecode":"0x60806040"}`)
	write(t, dir, "Vault.json", `{"abi":null,"bytecode":{"object":"0x6001"}}`)
	write(t, dir, "Linked.bin", "0x6080__$abc$__6040")

	src := Dir(dir)

	a, err := src.Load("PropertyOracle")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, a.Bytecode)
	assert.Equal(t, -1, a.ConstructorInputs())

	a, err = src.Load("InvestmentPool")
	require.NoError(t, err)
	assert.Equal(t, 3, a.ConstructorInputs())
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, a.Bytecode)

	a, err = src.Load("Vault")
	require.NoError(t, err)
	assert.Nil(t, a.ABI)
	assert.Equal(t, []byte{0x60, 0x01}, a.Bytecode)

	_, err = src.Load("Linked")
	assert.ErrorContains(t, err, "unlinked")

	_, err = src.Load("ComplianceModule")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMapLoad(t *testing.T) {
	m := Map{"Vault": {Name: "Vault", Bytecode: []byte{1}}}
	a, err := m.Load("Vault")
	require.NoError(t, err)
	assert.Equal(t, "Vault", a.Name)

	_, err = m.Load("PropertyOracle")
	assert.ErrorIs(t, err, ErrNotFound)
}
