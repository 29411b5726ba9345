package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"sdspi/core"
	"sdspi/mmc"
)

const probeKey = "$probe"

// probe is the state shared by shell commands.
type probe struct {
	disk *mmc.Disk
	card *mmc.SPICard
}

func probeFrom(c *ishell.Context) *probe {
	return c.Get(probeKey).(*probe)
}

var shellCommands = []*ishell.Cmd{
	{
		Name: "info",
		Help: "card type and geometry",
		Func: func(c *ishell.Context) {
			p := probeFrom(c)
			info := p.card.Info()
			c.Printf("disk %s: %s, %d blocks of %d bytes (%d MB)\n",
				p.disk.Name(), info.Type, info.BlockCount, info.BlockSize, info.CapacityMB)
			c.Printf("OCR 0x%08x, max clock %d Hz, status %s\n", info.OCR, info.TranSpeed, p.disk.Status())
		},
	},
	{
		Name: "read",
		Help: "read <sector> [count]: hex dump sectors",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("usage: read <sector> [count]"))
				return
			}
			sector, err := strconv.ParseUint(c.Args[0], 0, 32)
			if err != nil {
				c.Err(err)
				return
			}
			count := uint64(1)
			if len(c.Args) > 1 {
				if count, err = strconv.ParseUint(c.Args[1], 0, 16); err != nil {
					c.Err(err)
					return
				}
			}
			buf := make([]byte, count*mmc.BlockSize)
			if err := probeFrom(c).disk.Read(buf, uint32(sector), uint32(count)); err != nil {
				c.Err(fmt.Errorf("read sector %d: %w", sector, err))
				return
			}
			c.Print(hex.Dump(buf))
		},
	},
	{
		Name: "reinit",
		Help: "shut the card down and run bring-up again",
		Func: func(c *ishell.Context) {
			p := probeFrom(c)
			if err := p.disk.Deinit(); err != nil {
				c.Err(err)
				return
			}
			if err := p.disk.Init(); err != nil {
				core.DumpBusEvents()
				c.Err(fmt.Errorf("init disk %s: %w", p.disk.Name(), err))
				return
			}
			c.Printf("disk %s: %s\n", p.disk.Name(), p.disk.Status())
		},
	},
	{
		Name: "csd",
		Help: "read and decode the CSD register",
		Func: func(c *ishell.Context) {
			csd, err := probeFrom(c).card.ReadCSD()
			if err != nil {
				c.Err(err)
				return
			}
			blocks, _ := csd.BlockCount()
			c.Printf("CSD %s\n", hex.EncodeToString(csd[:]))
			c.Printf("structure %d, %d blocks, TRAN_SPEED %d Hz\n", csd.Structure(), blocks, csd.TranSpeed())
		},
	},
	{
		Name: "cid",
		Help: "read and decode the CID register",
		Func: func(c *ishell.Context) {
			cid, err := probeFrom(c).card.ReadCID()
			if err != nil {
				c.Err(err)
				return
			}
			r := newCIDReport(cid)
			c.Printf("CID %s\n", hex.EncodeToString(cid[:]))
			c.Printf("mid 0x%02x oem %q product %q rev %s serial 0x%08x made %s\n",
				r.Manufacturer, r.OEM, r.Product, r.Revision, r.Serial, r.Manufactured)
		},
	},
	{
		Name: "status",
		Help: "CMD13 card status",
		Func: func(c *ishell.Context) {
			st, err := probeFrom(c).card.Status()
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("status 0x%04x\n", st)
		},
	},
	{
		Name: "dump",
		Help: "print the bus event ring",
		Func: func(c *ishell.Context) {
			for _, e := range eventLines(core.BusEvents()) {
				c.Printf("%-12s slot=%d v1=0x%08x v2=0x%08x\n", e.Event, e.Slot, e.V1, e.V2)
			}
		},
	},
}

// newShell builds the interactive shell around an initialized disk.
func newShell(p *probe) *ishell.Shell {
	sh := ishell.New()
	sh.Set(probeKey, p)
	sh.SetPrompt("sd> ")
	for _, cmd := range shellCommands {
		sh.AddCmd(cmd)
	}
	return sh
}
