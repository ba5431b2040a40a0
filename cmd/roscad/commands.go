package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mypoolr/roscacore/internal/contribution"
	"github.com/mypoolr/roscacore/internal/model"
)

// core is the single engine instance this process drives, set up in
// main before app.Run dispatches into any of the commands below. One
// CLI process is one CoreContext: memstore holds state only for the
// life of the process, the same constraint that makes every command
// here run inside a single long-lived invocation rather than one
// process per call.
var core *coreHandle

// createGroupCommand implements spec §6's create_group.
var createGroupCommand = &cli.Command{
	Action:    runCreateGroup,
	Name:      "create-group",
	Usage:     "create a new savings group",
	ArgsUsage: "<name> <admin-ref>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "contribution-amount", Required: true, Usage: "per-member contribution amount, e.g. 1000.00"},
		&cli.StringFlag{Name: "period", Value: "monthly", Usage: "daily|weekly|monthly"},
		&cli.IntFlag{Name: "member-limit", Required: true},
		&cli.StringFlag{Name: "deposit-multiplier", Value: "1", Usage: "security deposit multiplier applied per remaining position"},
		&cli.StringFlag{Name: "tier", Value: "starter", Usage: "starter|essential|advanced|extended"},
	},
}

func runCreateGroup(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: create-group <name> <admin-ref>", 1)
	}
	amount, err := decimal.NewFromString(ctx.String("contribution-amount"))
	if err != nil {
		return cli.Exit(fmt.Errorf("contribution-amount: %w", err), 1)
	}
	multiplier, err := decimal.NewFromString(ctx.String("deposit-multiplier"))
	if err != nil {
		return cli.Exit(fmt.Errorf("deposit-multiplier: %w", err), 1)
	}

	groupID, err := core.engine.CreateGroup(ctx.Context, coreCreateGroupInput(
		ctx.Args().Get(0), ctx.Args().Get(1), amount, model.RotationPeriod(ctx.String("period")),
		ctx.Int("member-limit"), multiplier, model.Tier(ctx.String("tier")),
	))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println(groupID.String())
	return nil
}

// joinGroupCommand implements spec §6's join_group.
var joinGroupCommand = &cli.Command{
	Action:    runJoinGroup,
	Name:      "join-group",
	Usage:     "join a group, optionally at a preferred rotation position",
	ArgsUsage: "<group-id> <external-user-id>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "preferred-position", Value: 0, Usage: "0 means next available"},
	},
}

func runJoinGroup(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: join-group <group-id> <external-user-id>", 1)
	}
	groupID, err := model.ParseGroupID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	res, err := core.engine.JoinGroup(ctx.Context, groupID, ctx.Args().Get(1), ctx.Int("preferred-position"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Printf("member_id=%s position=%d required_deposit=%s\n", res.Member.ID, res.Member.Position, res.RequiredDeposit)
	return nil
}

// confirmDepositCommand implements spec §6's confirm_deposit.
var confirmDepositCommand = &cli.Command{
	Action:    runConfirmDeposit,
	Name:      "confirm-deposit",
	Usage:     "record that a member's security deposit arrived",
	ArgsUsage: "<member-id> <admin-ref> <amount> <reference>",
}

func runConfirmDeposit(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return cli.Exit("usage: confirm-deposit <member-id> <admin-ref> <amount> <reference>", 1)
	}
	memberID, err := model.ParseMemberID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	amount, err := decimal.NewFromString(ctx.Args().Get(2))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := core.engine.ConfirmDeposit(ctx.Context, memberID, ctx.Args().Get(1), amount, ctx.Args().Get(3)); err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println("ok")
	return nil
}

// recordContributionCommand implements spec §6's record_contribution.
var recordContributionCommand = &cli.Command{
	Action:    runRecordContribution,
	Name:      "record-contribution",
	Usage:     "open a dual-confirmation contribution between two members",
	ArgsUsage: "<group-id> <from-member-id> <to-member-id> <amount> <rotation-index> <external-ref>",
}

func runRecordContribution(ctx *cli.Context) error {
	if ctx.NArg() != 6 {
		return cli.Exit("usage: record-contribution <group-id> <from-member-id> <to-member-id> <amount> <rotation-index> <external-ref>", 1)
	}
	groupID, err := model.ParseGroupID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	from, err := model.ParseMemberID(ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(err, 1)
	}
	to, err := model.ParseMemberID(ctx.Args().Get(2))
	if err != nil {
		return cli.Exit(err, 1)
	}
	amount, err := decimal.NewFromString(ctx.Args().Get(3))
	if err != nil {
		return cli.Exit(err, 1)
	}
	var rotationIndex int
	if _, err := fmt.Sscanf(ctx.Args().Get(4), "%d", &rotationIndex); err != nil {
		return cli.Exit(fmt.Errorf("rotation-index: %w", err), 1)
	}

	txID, err := core.engine.RecordContribution(ctx.Context, groupID, from, to, amount, rotationIndex, ctx.Args().Get(5))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println(txID.String())
	return nil
}

// confirmContributionCommand implements spec §6's confirm_contribution.
var confirmContributionCommand = &cli.Command{
	Action:    runConfirmContribution,
	Name:      "confirm-contribution",
	Usage:     "confirm one side of a contribution",
	ArgsUsage: "<transaction-id> <sender|recipient> <actor-ref>",
}

func runConfirmContribution(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.Exit("usage: confirm-contribution <transaction-id> <sender|recipient> <actor-ref>", 1)
	}
	txID, err := model.ParseTransactionID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	party := contribution.Party(ctx.Args().Get(1))
	if party != contribution.PartySender && party != contribution.PartyRecipient {
		return cli.Exit("party must be sender or recipient", 1)
	}
	status, err := core.engine.ConfirmContribution(ctx.Context, txID, party, ctx.Args().Get(2))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println(status)
	return nil
}

// advanceRotationCommand implements spec §6's advance_rotation.
var advanceRotationCommand = &cli.Command{
	Action:    runAdvanceRotation,
	Name:      "advance-rotation",
	Usage:     "advance a group's rotation once its current payee is settled",
	ArgsUsage: "<group-id> <expected-index>",
}

func runAdvanceRotation(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: advance-rotation <group-id> <expected-index>", 1)
	}
	groupID, err := model.ParseGroupID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	var expectedIndex int
	if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &expectedIndex); err != nil {
		return cli.Exit(fmt.Errorf("expected-index: %w", err), 1)
	}
	res, err := core.engine.AdvanceRotation(ctx.Context, groupID, expectedIndex)
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Printf("outcome=%s new_index=%d\n", res.Outcome, res.NewIndex)
	return nil
}

// requestLeaveCommand implements spec §6's request_leave.
var requestLeaveCommand = &cli.Command{
	Action:    runRequestLeave,
	Name:      "request-leave",
	Usage:     "ask whether a member may leave before the cycle closes",
	ArgsUsage: "<member-id> <actor-ref>",
}

func runRequestLeave(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: request-leave <member-id> <actor-ref>", 1)
	}
	memberID, err := model.ParseMemberID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	decision, err := core.engine.RequestLeave(ctx.Context, memberID, ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Printf("allowed=%t reason=%q\n", decision.Allowed, decision.Reason)
	return nil
}

// closeCycleCommand implements spec §6's close_cycle.
var closeCycleCommand = &cli.Command{
	Action:    runCloseCycle,
	Name:      "close-cycle",
	Usage:     "close a completed group, returning every security deposit",
	ArgsUsage: "<group-id> <admin-ref>",
}

func runCloseCycle(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: close-cycle <group-id> <admin-ref>", 1)
	}
	groupID, err := model.ParseGroupID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	summary, err := core.engine.CloseCycle(ctx.Context, groupID, ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Printf("deposits_returned=%d total_returned=%s\n", summary.DepositsReturned, summary.TotalReturned)
	return nil
}

// auditCommand implements spec §6's audit.
var auditCommand = &cli.Command{
	Action:    runAudit,
	Name:      "audit",
	Usage:     "run the consistency audit against a group",
	ArgsUsage: "<group-id>",
}

func runAudit(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: audit <group-id>", 1)
	}
	groupID, err := model.ParseGroupID(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	report, err := core.engine.Audit(ctx.Context, groupID)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if len(report.Findings) == 0 {
		fmt.Println("no findings")
		return nil
	}
	for _, f := range report.Findings {
		fmt.Printf("%s %s: %s\n", f.Severity, f.Code, f.Detail)
	}
	return nil
}
