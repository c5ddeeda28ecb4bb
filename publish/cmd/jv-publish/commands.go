package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/artifacts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/deploy"
	"github.com/Vaios0x/JeonseVault-sub002/publish/graph"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/ownership"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
	"github.com/Vaios0x/JeonseVault-sub002/publish/verify"
)

var commandDeploy = &cli.Command{
	Name:  "deploy",
	Usage: "deploy missing contracts, provision roles and verify the result",
	Description: `Contracts already recorded in the manifest are skipped, so an
interrupted deploy is resumed by running it again.`,
	Flags:        []cli.Flag{jsonFlag},
	Action:       runDeploy,
	OnUsageError: globalFlagHint,
}

var commandVerify = &cli.Command{
	Name:         "verify",
	Usage:        "check code and roles on chain against the manifest and role table",
	Description:  "Exits 1 when any mismatch is found.",
	Flags:        []cli.Flag{jsonFlag},
	Action:       runVerify,
	OnUsageError: globalFlagHint,
}

var (
	toFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "address of the new owner",
		Required: true,
	}

	commandTransferOwnership = &cli.Command{
		Name:  "transfer-ownership",
		Usage: "hand every admin role to a new owner",
		Description: `The new owner is granted admin on every contract before any role
is revoked from the current owner. Must be signed by the current owner.`,
		Flags:        []cli.Flag{toFlag},
		Action:       runTransfer,
		OnUsageError: globalFlagHint,
	}
)

var commandPlan = &cli.Command{
	Name:         "plan",
	Usage:        "print the deployment order and what deploy would do",
	Flags:        []cli.Flag{jsonFlag},
	Action:       runPlan,
	OnUsageError: globalFlagHint,
}

var commandShow = &cli.Command{
	Name:         "show",
	Usage:        "print the manifest",
	Action:       runShow,
	OnUsageError: globalFlagHint,
}

func runDeploy(c *cli.Context) error {
	ctx, s, err := open(c, signing)
	if err != nil {
		return err
	}
	defer s.Close()

	specs := contracts.Specs(s.cfg.Params)
	order, err := graph.ResolveOrder(specs)
	if err != nil {
		return err
	}

	signer := s.chain.Address()
	owner := s.m.Owner()
	if owner == (common.Address{}) {
		owner = signer
	}
	operator := s.cfg.Operator
	if operator == (common.Address{}) {
		operator = signer
	}
	resolve := deploy.Principals(map[string]common.Address{
		contracts.PrincipalDeployer: signer,
		contracts.PrincipalOwner:    owner,
		contracts.PrincipalOperator: operator,
	})

	d := deploy.New(s.chain, s.store, artifacts.Dir(s.cfg.ArtifactsDir), s.chain.GasFeeCap(), s.log)
	if err := d.Deploy(ctx, order, specs, resolve, s.m); err != nil {
		return err
	}

	table, err := s.table()
	if err != nil {
		return err
	}
	if s.m.Owner() != signer {
		s.log.Warn().Str("owner", s.m.Owner().Hex()).Msg("signer no longer owns the contracts; skipping role provisioning")
	} else {
		p := roles.NewProvisioner(s.chain, s.log, s.cfg.ProvisionWorkers)
		if err := p.Apply(ctx, s.m, table); err != nil {
			return err
		}
	}

	report, err := verify.New(s.chain, s.log, s.cfg.VerifyWorkers).Verify(ctx, s.m, table)
	if err != nil {
		return err
	}
	if err := printReport(c.App.Writer, c.Bool(jsonFlag.Name), report); err != nil {
		return err
	}
	return report.Err()
}

func runVerify(c *cli.Context) error {
	ctx, s, err := open(c, readOnly)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(s.m.Contracts) == 0 {
		return publish.Configf("nothing deployed on %s", s.cfg.Network)
	}
	table, err := s.table()
	if err != nil {
		return err
	}
	report, err := verify.New(s.chain, s.log, s.cfg.VerifyWorkers).Verify(ctx, s.m, table)
	if err != nil {
		return err
	}
	if err := printReport(c.App.Writer, c.Bool(jsonFlag.Name), report); err != nil {
		return err
	}
	return report.Err()
}

func runTransfer(c *cli.Context) error {
	newOwner, err := publish.ParseAddress(c.String(toFlag.Name))
	if err != nil {
		return publish.Configf("--to: %v", err)
	}
	ctx, s, err := open(c, signing)
	if err != nil {
		return err
	}
	defer s.Close()

	// The table as it stands before the transfer.
	table, err := s.table()
	if err != nil {
		return err
	}
	coord := ownership.New(
		s.chain,
		s.store,
		roles.NewProvisioner(s.chain, s.log, s.cfg.ProvisionWorkers),
		verify.New(s.chain, s.log, s.cfg.VerifyWorkers),
		s.log,
	)
	err = coord.Transfer(ctx, s.m, newOwner, table)

	states := coord.States()
	for _, k := range s.m.Kinds() {
		if st, ok := states[k]; ok {
			fmt.Fprintf(c.App.Writer, "%-18s %s\n", k, st)
		}
	}
	return err
}

func runPlan(c *cli.Context) error {
	_, s, err := open(c, offline)
	if err != nil {
		return err
	}
	defer s.Close()

	order, err := graph.ResolveOrder(contracts.Specs(s.cfg.Params))
	if err != nil {
		return err
	}
	steps := deploy.Plan(order, s.m)
	if c.Bool(jsonFlag.Name) {
		return writeJSON(c.App.Writer, steps)
	}
	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader([]string{"#", "Contract", "Version", "Action", "Address"})
	for i, st := range steps {
		addr := ""
		if st.Action == "skip" {
			addr = st.Address.Hex()
		}
		table.Append([]string{strconv.Itoa(i + 1), string(st.Kind), st.Version, st.Action, addr})
	}
	table.Render()
	return nil
}

func runShow(c *cli.Context) error {
	_, s, err := open(c, offline)
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := manifest.Encode(s.m)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func printReport(w io.Writer, asJSON bool, r *verify.Report) error {
	if asJSON {
		return writeJSON(w, r)
	}
	kinds := make([]publish.Kind, 0, len(r.Contracts))
	for k := range r.Contracts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Contract", "Address", "Code", "Roles held"})
	for _, k := range kinds {
		cr := r.Contracts[k]
		code := "ok"
		if !cr.CodePresent {
			code = "missing"
		}
		table.Append([]string{string(k), cr.Address.Hex(), code, fmt.Sprintf("%d/%d", len(cr.Actual), len(cr.Expected))})
	}
	table.Render()
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "MISMATCH %s\n", m)
	}
	if r.Passed {
		fmt.Fprintln(w, "verification passed")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
