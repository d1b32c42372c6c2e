package main

import (
	"fmt"

	"github.com/Anya-org/dlcd/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName    = "url"
	idFlagName     = "id"
	stateFlagName  = "state"
	fileFlagName   = "file"
	oracleFlagName = "oracle"
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach the dlc daemon",
		Value: fmt.Sprintf("http://localhost:%d", config.DefaultPort),
	}
	contractIdFlag = &cli.StringFlag{
		Name:     idFlagName,
		Usage:    "the id of the contract",
		Required: true,
	}
	stateFlag = &cli.StringSliceFlag{
		Name:  stateFlagName,
		Usage: "filter contracts by state (offered, accepted, signed, broadcast, executed, refunded, failed)",
	}
	oracleFlag = &cli.StringFlag{
		Name:     oracleFlagName,
		Usage:    "the name of a configured oracle",
		Required: true,
	}
	fileFlag = &cli.StringFlag{
		Name:     fileFlagName,
		Usage:    "path to the json message, use - to read from stdin",
		Required: true,
	}
)
