// Copyright 2025 The pyrelay Authors
// This file is part of pyrelay.
//
// pyrelay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// pyrelay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with pyrelay. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v2"
)

func adminCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "base `URL` of the running daemon",
			Value: "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "admin-key",
			Usage:   "admin API `KEY`",
			EnvVars: []string{"ADMIN_API_KEY"},
		},
	}
	return &cli.Command{
		Name:  "admin",
		Usage: "operate a running relay daemon",
		Subcommands: []*cli.Command{
			{
				Name:   "trigger-burn",
				Usage:  "run one burn cycle now",
				Flags:  flags,
				Action: adminTriggerBurn,
			},
			{
				Name:   "treasury",
				Usage:  "show treasury balance and recent events",
				Flags:  flags,
				Action: adminTreasury,
			},
			{
				Name:   "history",
				Usage:  "show archived transactions and burns",
				Flags:  flags,
				Action: adminHistory,
			},
			{
				Name:  "migrate-keys",
				Usage: "rename legacy hot-store keys into the current namespace",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "legacy-prefix",
						Usage:    "old key `PREFIX` to migrate from",
						Required: true,
					},
				}, flags...),
				Action: adminMigrateKeys,
			},
		},
	}
}

// adminDo calls one guarded endpoint and returns the parsed body.
func adminDo(c *cli.Context, method, path string, body string) (gjson.Result, error) {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.String("url"), "/")+path, rd)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("x-admin-key", c.String("admin-key"))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(raw)
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = resp.Status
		}
		return gjson.Result{}, fmt.Errorf("%s (%s)", msg, parsed.Get("code").String())
	}
	return parsed, nil
}

func adminTriggerBurn(c *cli.Context) error {
	res, err := adminDo(c, http.MethodPost, "/admin/burn", "")
	if err != nil {
		return err
	}
	fmt.Println("burn cycle", res.Get("status").String())
	return nil
}

func adminTreasury(c *cli.Context) error {
	res, err := adminDo(c, http.MethodGet, "/admin/treasury", "")
	if err != nil {
		return err
	}
	fmt.Println("treasury ecotoken balance:", res.Get("treasuryEcotoken").String())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "In", "Out", "Reason", "At"})
	res.Get("events").ForEach(func(_, ev gjson.Result) bool {
		table.Append([]string{
			ev.Get("kind").String(),
			ev.Get("amountIn").String(),
			ev.Get("amountOut").String(),
			ev.Get("reason").String(),
			ev.Get("timestamp").String(),
		})
		return true
	})
	table.Render()
	return nil
}

func adminHistory(c *cli.Context) error {
	res, err := adminDo(c, http.MethodGet, "/admin/history", "")
	if err != nil {
		return err
	}

	txs := tablewriter.NewWriter(os.Stdout)
	txs.SetHeader([]string{"Quote", "Wallet", "Token", "Fee", "Signature", "At"})
	res.Get("transactions").ForEach(func(_, tx gjson.Result) bool {
		txs.Append([]string{
			tx.Get("quoteId").String(),
			tx.Get("userPubkey").String(),
			tx.Get("paymentToken").String(),
			tx.Get("feeNative").String(),
			tx.Get("signature").String(),
			tx.Get("timestamp").String(),
		})
		return true
	})
	fmt.Println("transactions:")
	txs.Render()

	burns := tablewriter.NewWriter(os.Stdout)
	burns.SetHeader([]string{"Signature", "Kind", "Ecotoken", "Retained", "At"})
	res.Get("burns").ForEach(func(_, b gjson.Result) bool {
		burns.Append([]string{
			b.Get("signature").String(),
			b.Get("kind").String(),
			b.Get("amountEcotoken").String(),
			b.Get("treasuryRetained").String(),
			b.Get("timestamp").String(),
		})
		return true
	})
	fmt.Println("burns:")
	burns.Render()
	return nil
}

func adminMigrateKeys(c *cli.Context) error {
	body := fmt.Sprintf(`{"legacyPrefix":%q}`, c.String("legacy-prefix"))
	res, err := adminDo(c, http.MethodPost, "/admin/migrate-keys", body)
	if err != nil {
		return err
	}
	fmt.Println("migrated", res.Get("migrated").Int(), "keys")
	return nil
}
