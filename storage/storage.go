// Package storage is the firmware's storage-init routine: open the card on
// the configured bus, bring the disk up, smoke-test sector 0 and keep
// polling the card afterwards.
package storage

import (
	"sdspi/config"
	"sdspi/core"
	"sdspi/mmc"
)

// Card is what the routine needs from a card driver.
type Card interface {
	mmc.Driver
	Status() (uint16, error)
}

// Storage is a card whose disk came up and whose sector 0 was readable.
type Storage struct {
	card    Card
	disk    *mmc.Disk
	bootSig bool
}

// Open opens the card described by cfg and starts it.
func Open(cfg *config.Config) (*Storage, error) {
	card, err := mmc.OpenSPI(cfg.BusConfig(), cfg.ChipSelect(), cfg.CardOptions())
	if err != nil {
		core.LogError("storage: open failed: " + err.Error())
		return nil, err
	}
	return Start(card, cfg.DiskName)
}

// Start brings the disk up on card and reads sector 0. On failure the
// card is closed.
func Start(card Card, name string) (*Storage, error) {
	disk := mmc.NewDisk(name, card)
	if err := disk.Init(); err != nil {
		core.DumpBusEvents()
		disk.Close()
		return nil, err
	}

	sector := make([]byte, disk.SectorSize())
	if err := disk.Read(sector, 0, 1); err != nil {
		core.LogError("storage: sector 0 read failed: " + err.Error())
		core.DumpBusEvents()
		disk.Close()
		return nil, err
	}

	s := &Storage{card: card, disk: disk}
	s.bootSig = sector[510] == 0x55 && sector[511] == 0xAA
	if s.bootSig {
		core.LogInfo("storage: sector 0 carries a boot signature")
	} else {
		core.LogWarning("storage: sector 0 has no boot signature")
	}
	return s, nil
}

func (s *Storage) Disk() *mmc.Disk { return s.disk }

// BootSignature reports whether sector 0 ended in 55 AA.
func (s *Storage) BootSignature() bool { return s.bootSig }

// Check polls the card status register. A nonzero status is logged but
// the card is still considered present.
func (s *Storage) Check() bool {
	status, err := s.card.Status()
	if err != nil {
		core.LogWarning("storage: status failed: " + err.Error())
		return false
	}
	if status != 0 {
		core.LogWarning("storage: card status " + core.Hex32(uint32(status)))
	}
	return true
}

// Close shuts the disk down and releases the bus.
func (s *Storage) Close() error {
	return s.disk.Close()
}
