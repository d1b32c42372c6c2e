package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// commands
var (
	infoCmd = &cli.Command{
		Name:   "info",
		Usage:  "Get info about the daemon, its wallet address and oracles",
		Action: infoAction,
	}
	announcementsCmd = &cli.Command{
		Name:   "announcements",
		Usage:  "List the events announced by an oracle",
		Flags:  []cli.Flag{oracleFlag},
		Action: announcementsAction,
	}
	contractCmd = &cli.Command{
		Name:  "contract",
		Usage: "Create, inspect and settle contracts",
		Subcommands: cli.Commands{
			contractCreateCmd,
			contractAcceptCmd,
			contractSignCmd,
			contractFinalizeCmd,
			contractStatusCmd,
			contractListCmd,
			contractSettleCmd,
			contractRefundCmd,
		},
	}
	contractCreateCmd = &cli.Command{
		Name:   "create",
		Usage:  "Create a contract from a json request and print the offer to send to the counterparty",
		Flags:  []cli.Flag{fileFlag},
		Action: contractCreateAction,
	}
	contractAcceptCmd = &cli.Command{
		Name:   "accept",
		Usage:  "Accept a received offer and print the accept message",
		Flags:  []cli.Flag{fileFlag},
		Action: contractAcceptAction,
	}
	contractSignCmd = &cli.Command{
		Name:   "sign",
		Usage:  "Sign a contract with a received accept message and print the sign message",
		Flags:  []cli.Flag{contractIdFlag, fileFlag},
		Action: contractSignAction,
	}
	contractFinalizeCmd = &cli.Command{
		Name:   "finalize",
		Usage:  "Finalize a contract with a received sign message and broadcast the funding tx",
		Flags:  []cli.Flag{contractIdFlag, fileFlag},
		Action: contractFinalizeAction,
	}
	contractStatusCmd = &cli.Command{
		Name:   "status",
		Usage:  "Get the status of a contract",
		Flags:  []cli.Flag{contractIdFlag},
		Action: contractStatusAction,
	}
	contractListCmd = &cli.Command{
		Name:   "list",
		Usage:  "List contracts",
		Flags:  []cli.Flag{stateFlag},
		Action: contractListAction,
	}
	contractSettleCmd = &cli.Command{
		Name:   "settle",
		Usage:  "Broadcast the CET of the outcome attested by the oracles",
		Flags:  []cli.Flag{contractIdFlag},
		Action: contractSettleAction,
	}
	contractRefundCmd = &cli.Command{
		Name:   "refund",
		Usage:  "Broadcast the refund tx of a contract past its timeout",
		Flags:  []cli.Flag{contractIdFlag},
		Action: contractRefundAction,
	}
)

var timeout = time.Minute

func infoAction(ctx *cli.Context) error {
	baseURL := ctx.String(urlFlagName)

	info, err := get(fmt.Sprintf("%s/v1/info", baseURL))
	if err != nil {
		return err
	}
	return printJSON(info)
}

func announcementsAction(ctx *cli.Context) error {
	announcements, err := get(fmt.Sprintf(
		"%s/v1/oracles/%s/announcements",
		ctx.String(urlFlagName), url.PathEscape(ctx.String(oracleFlagName)),
	))
	if err != nil {
		return err
	}
	return printJSON(announcements)
}

func contractCreateAction(ctx *cli.Context) error {
	return postFile(ctx, fmt.Sprintf("%s/v1/contracts", ctx.String(urlFlagName)))
}

func contractAcceptAction(ctx *cli.Context) error {
	return postFile(ctx, fmt.Sprintf("%s/v1/contracts/accept", ctx.String(urlFlagName)))
}

func contractSignAction(ctx *cli.Context) error {
	return postFile(ctx, contractURL(ctx, "sign"))
}

func contractFinalizeAction(ctx *cli.Context) error {
	return postFile(ctx, contractURL(ctx, "finalize"))
}

func contractStatusAction(ctx *cli.Context) error {
	status, err := get(contractURL(ctx, ""))
	if err != nil {
		return err
	}
	return printJSON(status)
}

func contractListAction(ctx *cli.Context) error {
	u, err := url.Parse(fmt.Sprintf("%s/v1/contracts", ctx.String(urlFlagName)))
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if states := ctx.StringSlice(stateFlagName); len(states) > 0 {
		q := u.Query()
		q.Set("state", strings.Join(states, ","))
		u.RawQuery = q.Encode()
	}

	contracts, err := get(u.String())
	if err != nil {
		return err
	}
	return printJSON(contracts)
}

func contractSettleAction(ctx *cli.Context) error {
	status, err := post(contractURL(ctx, "settle"), nil)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func contractRefundAction(ctx *cli.Context) error {
	status, err := post(contractURL(ctx, "refund"), nil)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func contractURL(ctx *cli.Context, action string) string {
	u := fmt.Sprintf("%s/v1/contracts/%s", ctx.String(urlFlagName), ctx.String(idFlagName))
	if len(action) > 0 {
		u = fmt.Sprintf("%s/%s", u, action)
	}
	return u
}

func postFile(ctx *cli.Context, url string) error {
	body, err := readFile(ctx.String(fileFlagName))
	if err != nil {
		return err
	}
	resp, err := post(url, body)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
