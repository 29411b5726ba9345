// Command sdprobe brings up an SD card over SPI from a host, either
// through firmware in bridge mode or a Linux SPI port, and reports what
// it finds.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"sdspi/config"
	"sdspi/core"
	"sdspi/host/mcu"
	"sdspi/host/periph"
	"sdspi/mmc"
)

var (
	configFile = flag.String("config", "", "Storage configuration (JSON)")
	device     = flag.String("device", "/dev/ttyACM0", "Serial device of a bridge firmware")
	usePeriph  = flag.Bool("periph", false, "Use a host SPI port instead of the bridge")
	portName   = flag.String("port", "", "periph SPI port name (e.g. SPI0.0)")
	csPin      = flag.String("cs", "", "Chip select pin override")
	rate       = flag.Uint("rate", 0, "Data clock override (Hz)")
	noCRC      = flag.Bool("nocrc", false, "Disable command and data CRC checking")
	shell      = flag.Bool("shell", false, "Start an interactive shell after probing")
	cborOut    = flag.String("cbor", "", "Write a CBOR report to this file")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	core.SetDebugWriter(glogSink)
	core.SetLogLevel(coreLevel())

	if err := run(); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, err
		}
		if cfg, err = config.LoadConfig(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", *configFile, err)
		}
	}
	if *csPin != "" {
		cfg.CSPin = *csPin
	}
	if *rate != 0 {
		cfg.Bus.Rate = uint32(*rate)
	}
	if *noCRC {
		off := false
		cfg.CRC = &off
	}
	// No DMA engine on the host side of either backend
	cfg.Bus.DMA = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openBackend registers the SPI and GPIO drivers and returns a cleanup.
func openBackend(cfg *config.Config) (func(), error) {
	if *usePeriph {
		drv, err := periph.Init()
		if err != nil {
			return nil, err
		}
		drv.ManualCS = true
		if *portName != "" {
			drv.Ports[core.SPIBusID(cfg.Bus.ID)] = *portName
		}
		core.SetSPIDriver(drv)
		core.SetGPIODriver(drv)
		return func() { drv.Close() }, nil
	}

	m, err := mcu.Connect(*device)
	if err != nil {
		return nil, fmt.Errorf("bridge on %s: %w", *device, err)
	}
	glog.Infof("bridge firmware %s on %s", m.Version(), *device)
	core.SetSPIDriver(m)
	core.SetGPIODriver(m)
	return func() { m.Close() }, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	card, err := mmc.OpenSPI(cfg.BusConfig(), cfg.ChipSelect(), cfg.CardOptions())
	if err != nil {
		return fmt.Errorf("open card: %w", err)
	}
	disk := mmc.NewDisk(cfg.DiskName, card)
	defer disk.Close()

	if err := disk.Init(); err != nil {
		core.DumpBusEvents()
		return fmt.Errorf("init disk %s: %w", disk.Name(), err)
	}
	fmt.Printf("%s: %s, %d sectors of %d bytes, %d MB\n",
		disk.Name(), card.State().Type, disk.SectorCount(), disk.SectorSize(), disk.CapacityMB())

	sector0 := make([]byte, mmc.BlockSize)
	if err := disk.Read(sector0, 0, 1); err != nil {
		return fmt.Errorf("read sector 0: %w", err)
	}
	if sector0[510] == 0x55 && sector0[511] == 0xAA {
		fmt.Println("sector 0 carries a boot signature")
	}

	if *cborOut != "" {
		var buf bytes.Buffer
		if err := writeCBOR(&buf, buildReport(disk, card)); err != nil {
			return err
		}
		if err := os.WriteFile(*cborOut, buf.Bytes(), 0o644); err != nil {
			return err
		}
		glog.Infof("report written to %s (%d bytes)", *cborOut, buf.Len())
	}

	if *shell {
		sh := newShell(&probe{disk: disk, card: card})
		if args := flag.Args(); len(args) > 0 {
			return sh.Process(args...)
		}
		sh.Run()
	}
	return nil
}
