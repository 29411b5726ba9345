package mmc

import "sdspi/core"

// DefaultDiskName is the name storage code mounts the card under.
const DefaultDiskName = "SD"

// DiskStatus is the disk-access view of a card.
type DiskStatus uint8

const (
	DiskUninit DiskStatus = iota
	DiskNotReady
	DiskOK
)

func (s DiskStatus) String() string {
	switch s {
	case DiskOK:
		return "ok"
	case DiskNotReady:
		return "not ready"
	}
	return "uninit"
}

// Disk adapts a Driver to sector-oriented disk access.
type Disk struct {
	name    string
	drv     Driver
	status  DiskStatus
	sectors uint64
}

// NewDisk wraps drv. An empty name selects DefaultDiskName.
func NewDisk(name string, drv Driver) *Disk {
	if name == "" {
		name = DefaultDiskName
	}
	return &Disk{name: name, drv: drv}
}

// Name returns the disk name.
func (d *Disk) Name() string { return d.name }

// Init probes the card and reads its geometry.
func (d *Disk) Init() error {
	if err := d.drv.Probe(); err != nil {
		d.status = DiskNotReady
		core.LogError("disk " + d.name + ": probe failed: " + err.Error())
		return err
	}
	n, err := d.drv.SectorCount()
	if err != nil {
		d.status = DiskNotReady
		core.LogError("disk " + d.name + ": geometry failed: " + err.Error())
		return err
	}
	d.sectors = n
	d.status = DiskOK
	core.LogInfo("disk " + d.name + ": " + core.Itoa(int(n)) + " sectors of " +
		core.Itoa(d.SectorSize()) + " bytes, " + core.Itoa(int(d.CapacityMB())) + " MB")
	return nil
}

// Status reports whether the disk can be read.
func (d *Disk) Status() DiskStatus {
	return d.status
}

// Read reads count sectors starting at sector.
func (d *Disk) Read(buf []byte, sector uint32, count uint32) error {
	if d.status != DiskOK {
		return core.ErrDeviceNotReady
	}
	return d.drv.ReadBlocks(sector, buf, count)
}

// Write is not supported.
func (d *Disk) Write(buf []byte, sector uint32, count uint32) error {
	return core.ErrUnsupported
}

// SectorCount returns the number of sectors found by Init.
func (d *Disk) SectorCount() uint64 { return d.sectors }

// SectorSize returns the sector size in bytes.
func (d *Disk) SectorSize() int { return d.drv.BlockSize() }

// CapacityMB returns the capacity in MiB.
func (d *Disk) CapacityMB() uint64 {
	return d.sectors * uint64(d.drv.BlockSize()) >> 20
}

// Deinit shuts the card down. Init may be called again afterwards.
func (d *Disk) Deinit() error {
	d.status = DiskUninit
	d.sectors = 0
	return d.drv.Deinit()
}

// Close shuts the card down and releases its bus.
func (d *Disk) Close() error {
	d.status = DiskUninit
	d.sectors = 0
	return d.drv.Close()
}
