package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/monsterxx03/binspy/pkg/api"
	"github.com/monsterxx03/binspy/pkg/binary"
	"github.com/monsterxx03/binspy/pkg/termui"
)

var (
	gitVer  string
	buildAt string
)

func main() {
	var formatHint string
	var pid int
	var debug bool
	formatFlag := &cli.StringFlag{
		Name:        "format",
		Aliases:     []string{"f"},
		Usage:       "binary format hint: auto, elf or pe",
		Value:       "auto",
		Destination: &formatHint,
	}
	pidFlag := &cli.IntFlag{
		Name:        "pid",
		Usage:       "inspect the executable of a running process instead of a file",
		Destination: &pid,
	}

	loadTarget := func(c *cli.Context) (*binary.Binary, error) {
		format, err := binary.ParseFormat(formatHint)
		if err != nil {
			return nil, err
		}
		if pid > 0 {
			return binary.LoadPid(pid, format)
		}
		if c.NArg() != 1 {
			return nil, fmt.Errorf("expect exactly one binary path (or --pid)")
		}
		return binary.LoadBinary(c.Args().First(), format)
	}

	app := &cli.App{
		Name:    "binspy",
		Usage:   "inspect sections and function symbols of ELF/PE executables",
		Version: fmt.Sprintf("%s (built at %s)", gitVer, buildAt),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "verbose loader logging",
				Destination: &debug,
			},
		},
		Before: func(c *cli.Context) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Aliases:   []string{"i"},
				Usage:     "Dump binary type, architecture and entry point",
				ArgsUsage: "<binary>",
				Flags:     []cli.Flag{formatFlag, pidFlag},
				Action: func(c *cli.Context) error {
					bin, err := loadTarget(c)
					if err != nil {
						return err
					}
					defer bin.Unload()
					fmt.Println(bin)
					fmt.Printf("target: %s, arch: %s\n", bin.TypeStr, bin.ArchStr)
					return nil
				},
			},
			{
				Name:      "sections",
				Aliases:   []string{"sec"},
				Usage:     "List loadable code and data sections",
				ArgsUsage: "<binary>",
				Flags:     []cli.Flag{formatFlag, pidFlag},
				Action: func(c *cli.Context) error {
					bin, err := loadTarget(c)
					if err != nil {
						return err
					}
					defer bin.Unload()
					table := tablewriter.NewWriter(os.Stdout)
					table.SetBorder(false)
					table.SetAutoWrapText(false)
					table.SetHeader([]string{"NAME", "TYPE", "VMA", "SIZE"})
					for _, sec := range bin.Sections {
						table.Append([]string{
							sec.Name,
							sec.Type.String(),
							fmt.Sprintf("0x%016x", sec.VMA),
							fmt.Sprintf("%d", sec.Size),
						})
					}
					table.Render()
					return nil
				},
			},
			{
				Name:      "symbols",
				Aliases:   []string{"sym"},
				Usage:     "List function symbols (static table first, then dynamic)",
				ArgsUsage: "<binary>",
				Flags:     []cli.Flag{formatFlag, pidFlag},
				Action: func(c *cli.Context) error {
					bin, err := loadTarget(c)
					if err != nil {
						return err
					}
					defer bin.Unload()
					table := tablewriter.NewWriter(os.Stdout)
					table.SetBorder(false)
					table.SetAutoWrapText(false)
					table.SetHeader([]string{"NAME", "TYPE", "ADDR"})
					for _, sym := range bin.Symbols {
						table.Append([]string{sym.Name, sym.Type.String(), fmt.Sprintf("0x%016x", sym.Addr)})
					}
					table.Render()
					return nil
				},
			},
			{
				Name:      "hex",
				Usage:     "Hex dump the contents of one section",
				ArgsUsage: "<binary>",
				Flags: []cli.Flag{formatFlag, pidFlag,
					&cli.StringFlag{
						Name:    "section",
						Aliases: []string{"s"},
						Usage:   "section name to dump",
						Value:   ".text",
					},
				},
				Action: func(c *cli.Context) error {
					bin, err := loadTarget(c)
					if err != nil {
						return err
					}
					defer bin.Unload()
					name := c.String("section")
					sec := bin.Section(name)
					if sec == nil {
						return fmt.Errorf("no section %q in %s", name, bin.Path)
					}
					fmt.Printf("%s %s vma=0x%x size=%d\n", sec.Name, sec.Type, sec.VMA, sec.Size)
					fmt.Print(hex.Dump(sec.Data))
					return nil
				},
			},
			{
				Name:      "view",
				Aliases:   []string{"v"},
				Usage:     "Browse sections and symbols in an interactive terminal UI",
				ArgsUsage: "<binary>",
				Flags:     []cli.Flag{formatFlag, pidFlag},
				Action: func(c *cli.Context) error {
					bin, err := loadTarget(c)
					if err != nil {
						return err
					}
					defer bin.Unload()
					return termui.NewViewer(bin).Run()
				},
			},
			{
				Name:  "mcp",
				Usage: "Serve loader queries as MCP tools over stdio",
				Action: func(c *cli.Context) error {
					return api.NewServer(gitVer).ServeStdio()
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
