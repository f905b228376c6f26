package main

import (
	"github.com/urfave/cli/v2"
)

const (
	instrumentFlagName = "instrument"
	feePctFlagName     = "fee-pct"
	acceptedFlagName   = "accepted"
	assetFlagName      = "asset"
	toFlagName         = "to"
	baseURIFlagName    = "uri"
	limitFlagName      = "limit"
)

var (
	instrumentFlag = &cli.StringFlag{
		Name:     instrumentFlagName,
		Usage:    "address of the payment instrument, zero address for the native currency",
		Required: true,
	}
	feePctFlag = &cli.Uint64Flag{
		Name:     feePctFlagName,
		Usage:    "protocol fee percentage scaled by the fee precision (10000 = 100%)",
		Required: true,
	}
	acceptedFlag = &cli.BoolFlag{
		Name:  acceptedFlagName,
		Usage: "whether the instrument is accepted for new rent accruals",
		Value: true,
	}
	assetFlag = &cli.Uint64Flag{
		Name:     assetFlagName,
		Usage:    "numeric id of the asset",
		Required: true,
	}
	toFlag = &cli.StringFlag{
		Name:     toFlagName,
		Usage:    "address of the recipient",
		Required: true,
	}
	baseURIFlag = &cli.StringFlag{
		Name:     baseURIFlagName,
		Usage:    "base URI prepended to asset ids",
		Required: true,
	}
	limitFlag = &cli.IntFlag{
		Name:  limitFlagName,
		Usage: "max number of events to print, 0 for all",
		Value: 50,
	}
)
