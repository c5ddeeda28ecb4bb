// Package artifacts reads compiled contracts produced by the external build:
// either a raw hex <Name>.bin file or a Hardhat/Foundry <Name>.json artifact.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrNotFound = errors.New("artifacts: not found")

type Artifact struct {
	Name     string
	Bytecode []byte
	// ABI is nil for .bin artifacts.
	ABI *abi.ABI
}

// ConstructorInputs returns the constructor arity declared by the ABI, or -1
// when the artifact has no ABI.
func (a Artifact) ConstructorInputs() int {
	if a.ABI == nil {
		return -1
	}
	return len(a.ABI.Constructor.Inputs)
}

type Source interface {
	Load(name string) (Artifact, error)
}

// Dir loads artifacts from a build output directory.
type Dir string

func (d Dir) Load(name string) (Artifact, error) {
	base := filepath.Join(string(d), name)
	if data, err := os.ReadFile(base + ".json"); err == nil {
		return parseJSON(name, data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("read artifact %s: %w", name, err)
	}
	data, err := os.ReadFile(base + ".bin")
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("%w: %s in %s", ErrNotFound, name, string(d))
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact %s: %w", name, err)
	}
	code, err := decodeHex(string(data))
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %s: %w", name, err)
	}
	return Artifact{Name: name, Bytecode: code}, nil
}

// Map serves artifacts from memory.
type Map map[string]Artifact

func (m Map) Load(name string) (Artifact, error) {
	a, ok := m[name]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

type jsonArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

func parseJSON(name string, data []byte) (Artifact, error) {
	var raw jsonArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return Artifact{}, fmt.Errorf("parse artifact %s: %w", name, err)
	}

	// Hardhat writes a string, Foundry an object with "object".
	var hexCode string
	if err := json.Unmarshal(raw.Bytecode, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw.Bytecode, &obj); err != nil {
			return Artifact{}, fmt.Errorf("artifact %s: unsupported bytecode field", name)
		}
		hexCode = obj.Object
	}
	code, err := decodeHex(hexCode)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %s: %w", name, err)
	}

	out := Artifact{Name: name, Bytecode: code}
	if len(raw.ABI) > 0 && !bytes.Equal(bytes.TrimSpace(raw.ABI), []byte("null")) {
		parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
		if err != nil {
			return Artifact{}, fmt.Errorf("artifact %s abi: %w", name, err)
		}
		out.ABI = &parsed
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	if len(s) <= 2 {
		return nil, errors.New("empty bytecode")
	}
	if strings.Contains(s, "__") {
		return nil, errors.New("bytecode has unlinked library placeholders")
	}
	return hexutil.Decode(s)
}
