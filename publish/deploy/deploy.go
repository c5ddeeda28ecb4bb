// Package deploy creates the contracts in dependency order and records each
// one in the manifest as soon as it is mined.
package deploy

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/artifacts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/metrics"
)

// ArgResolver turns a constructor argument into the value to ABI-encode.
type ArgResolver func(arg publish.Arg, m *manifest.Manifest) (any, error)

// Principals resolves contract arguments from the manifest and principal
// arguments from the given name -> address map. Literals pass through.
func Principals(principals map[string]common.Address) ArgResolver {
	return func(arg publish.Arg, m *manifest.Manifest) (any, error) {
		switch {
		case arg.IsContract():
			addr, ok := m.Address(arg.Contract())
			if !ok {
				return nil, publish.Configf("dependency %s is not deployed", arg.Contract())
			}
			return addr, nil
		case arg.IsPrincipal():
			addr, ok := principals[strings.ToLower(arg.Principal())]
			if !ok || addr == (common.Address{}) {
				return nil, publish.Configf("principal %q has no address", arg.Principal())
			}
			return addr, nil
		default:
			if arg.Value() == nil {
				return nil, publish.Configf("constructor literal is empty")
			}
			return arg.Value(), nil
		}
	}
}

type Deployer struct {
	chain     publish.Chain
	store     manifest.Store
	source    artifacts.Source
	gasFeeCap *big.Int
	log       zerolog.Logger
	now       func() time.Time
}

func New(chain publish.Chain, store manifest.Store, source artifacts.Source, gasFeeCap *big.Int, log zerolog.Logger) *Deployer {
	return &Deployer{
		chain:     chain,
		store:     store,
		source:    source,
		gasFeeCap: gasFeeCap,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Deploy walks order and deploys every kind the manifest does not already
// record. The manifest is saved after each contract, so a crashed run
// resumes where it stopped. Nothing is recorded for a contract that failed.
func (d *Deployer) Deploy(ctx context.Context, order []publish.Kind, specs []publish.ContractSpec, resolve ArgResolver, m *manifest.Manifest) error {
	if err := d.claim(ctx, m); err != nil {
		return err
	}

	byKind := make(map[publish.Kind]publish.ContractSpec, len(specs))
	for _, s := range specs {
		byKind[s.Kind] = s
	}

	for _, kind := range order {
		if m.Has(kind) {
			d.skip(ctx, m, kind)
			continue
		}
		spec, ok := byKind[kind]
		if !ok {
			return publish.Configf("no spec for %s", kind)
		}
		entry, err := d.deployOne(ctx, spec, resolve, m)
		if err != nil {
			return err
		}
		m.Record(entry)
		if err := d.store.Save(ctx, m); err != nil {
			return fmt.Errorf("save manifest after %s: %w", kind, err)
		}
		metrics.ContractsDeployed.Inc()
		d.log.Info().
			Str("contract", string(kind)).
			Str("address", entry.Address.Hex()).
			Str("tx", entry.DeploymentTx.Hex()).
			Uint64("block", entry.BlockNumber).
			Msg("deployed")
	}
	return nil
}

// claim stamps a fresh manifest with the signer and refuses to continue a
// manifest started by a different key.
func (d *Deployer) claim(ctx context.Context, m *manifest.Manifest) error {
	signer := d.chain.Address()
	if m.Deployer == (common.Address{}) {
		chainID, err := d.chain.ChainID(ctx)
		if err != nil {
			return err
		}
		m.Deployer = signer
		m.CurrentOwner = signer
		m.ChainID = chainID
		m.Timestamp = d.now()
		return nil
	}
	if m.Deployer != signer {
		return publish.Configf("manifest was deployed by %s, signer is %s", m.Deployer.Hex(), signer.Hex())
	}
	if m.CurrentOwner == (common.Address{}) {
		m.CurrentOwner = m.Deployer
	}
	return nil
}

func (d *Deployer) skip(ctx context.Context, m *manifest.Manifest, kind publish.Kind) {
	metrics.ContractsSkipped.Inc()
	addr, _ := m.Address(kind)
	log := d.log.With().Str("contract", string(kind)).Str("address", addr.Hex()).Logger()
	code, err := d.chain.CodeAt(ctx, addr)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("already deployed; code check failed")
	case len(code) == 0:
		log.Warn().Msg("already deployed but no code at recorded address; run verify")
	default:
		log.Info().Msg("already deployed, skipping")
	}
}

func (d *Deployer) deployOne(ctx context.Context, spec publish.ContractSpec, resolve ArgResolver, m *manifest.Manifest) (manifest.DeployedContract, error) {
	def, ok := contracts.Lookup(spec.Kind)
	if !ok {
		return manifest.DeployedContract{}, publish.Configf("unknown contract kind %s", spec.Kind)
	}

	values := make([]any, len(spec.Args))
	recorded := make([]string, len(spec.Args))
	for i, arg := range spec.Args {
		v, err := resolve(arg, m)
		if err != nil {
			return manifest.DeployedContract{}, fmt.Errorf("%s constructor arg %d: %w", spec.Kind, i, err)
		}
		values[i] = v
		recorded[i] = formatArg(v)
	}

	artifact, err := d.source.Load(def.Name)
	if err != nil {
		return manifest.DeployedContract{}, publish.Configf("load %s bytecode: %v", def.Name, err)
	}
	if n := artifact.ConstructorInputs(); n >= 0 && n != len(values) {
		return manifest.DeployedContract{}, publish.Configf("%s constructor takes %d args, spec has %d", def.Name, n, len(values))
	}
	encoded, err := def.Pack(values...)
	if err != nil {
		return manifest.DeployedContract{}, publish.Configf("encode %s constructor: %v", def.Name, err)
	}
	code := append(append([]byte(nil), artifact.Bytecode...), encoded...)

	if err := d.checkFunds(ctx, spec.Kind, def.GasLimit); err != nil {
		return manifest.DeployedContract{}, err
	}

	result, err := d.chain.Deploy(ctx, code, def.GasLimit)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("deploy", "failed").Inc()
		return manifest.DeployedContract{}, fmt.Errorf("deploy %s: %w", spec.Kind, err)
	}
	d.log.Info().Str("contract", string(spec.Kind)).Str("tx", result.TxHash.Hex()).Msg("deployment submitted")

	receipt, err := d.chain.WaitForReceipt(ctx, result.TxHash)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("deploy", "failed").Inc()
		return manifest.DeployedContract{}, fmt.Errorf("wait %s deployment: %w", spec.Kind, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.TransactionsSent.WithLabelValues("deploy", "reverted").Inc()
		return manifest.DeployedContract{}, &publish.DeploymentRevertedError{Kind: spec.Kind, TxHash: result.TxHash}
	}
	metrics.TransactionsSent.WithLabelValues("deploy", "success").Inc()

	addr := result.ContractAddress
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return manifest.DeployedContract{
		Kind:            spec.Kind,
		Name:            def.Name,
		Version:         def.Version,
		Address:         addr,
		ConstructorArgs: recorded,
		DeploymentTx:    result.TxHash,
		BlockNumber:     block,
		DeployedAt:      d.now(),
	}, nil
}

// checkFunds fails before submission when the signer cannot pay for the
// full gas limit at the fee cap.
func (d *Deployer) checkFunds(ctx context.Context, kind publish.Kind, gasLimit uint64) error {
	if d.gasFeeCap == nil || d.gasFeeCap.Sign() == 0 {
		return nil
	}
	balance, err := d.chain.BalanceAt(ctx, d.chain.Address())
	if err != nil {
		return err
	}
	required := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), d.gasFeeCap)
	if balance.Cmp(required) < 0 {
		return &publish.InsufficientFundsError{
			Kind:     kind,
			Account:  d.chain.Address(),
			Required: required,
			Balance:  balance,
		}
	}
	return nil
}

func formatArg(v any) string {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return common.Bytes2Hex(x)
	default:
		return fmt.Sprint(x)
	}
}

// Step is one line of a deployment plan. Version is the one recorded for a
// skipped contract and the one that would be deployed otherwise.
type Step struct {
	Kind    publish.Kind   `json:"kind"`
	Action  string         `json:"action"`
	Version string         `json:"version,omitempty"`
	Address common.Address `json:"address"`
}

// Plan reports what Deploy would do without touching the chain.
func Plan(order []publish.Kind, m *manifest.Manifest) []Step {
	out := make([]Step, 0, len(order))
	for _, k := range order {
		if c, ok := m.Contracts[k]; ok {
			out = append(out, Step{Kind: k, Action: "skip", Version: c.Version, Address: c.Address})
			continue
		}
		st := Step{Kind: k, Action: "deploy"}
		if def, ok := contracts.Lookup(k); ok {
			st.Version = def.Version
		}
		out = append(out, st)
	}
	return out
}
