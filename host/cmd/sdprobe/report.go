package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"sdspi/core"
	"sdspi/mmc"
)

// Report is the probe result handed to telemetry tooling.
type Report struct {
	Disk   string      `cbor:"disk" json:"disk"`
	Card   mmc.Info    `cbor:"card" json:"card"`
	CID    *CIDReport  `cbor:"cid,omitempty" json:"cid,omitempty"`
	Status uint16      `cbor:"status" json:"status"`
	Events []EventLine `cbor:"events,omitempty" json:"events,omitempty"`
}

// CIDReport is the decoded card identification.
type CIDReport struct {
	Manufacturer uint8  `cbor:"mid" json:"mid"`
	OEM          string `cbor:"oid" json:"oid"`
	Product      string `cbor:"pnm" json:"pnm"`
	Revision     string `cbor:"prv" json:"prv"`
	Serial       uint32 `cbor:"psn" json:"psn"`
	Manufactured string `cbor:"mdt" json:"mdt"`
}

// EventLine is one entry of the bus event ring.
type EventLine struct {
	Event string `cbor:"event" json:"event"`
	Slot  uint8  `cbor:"slot" json:"slot"`
	V1    uint32 `cbor:"v1" json:"v1"`
	V2    uint32 `cbor:"v2" json:"v2"`
}

func newCIDReport(cid mmc.CID) *CIDReport {
	major, minor := cid.PRV()
	year, month := cid.MDT()
	return &CIDReport{
		Manufacturer: cid.MID(),
		OEM:          strings.TrimRight(cid.OID(), "\x00 "),
		Product:      strings.TrimRight(cid.PNM(), "\x00 "),
		Revision:     fmt.Sprintf("%d.%d", major, minor),
		Serial:       cid.PSN(),
		Manufactured: fmt.Sprintf("%04d-%02d", year, month),
	}
}

func eventLines(events []core.BusEvent) []EventLine {
	lines := make([]EventLine, 0, len(events))
	for _, e := range events {
		lines = append(lines, EventLine{
			Event: core.EventName(e.EventType),
			Slot:  e.Slot,
			V1:    e.Value1,
			V2:    e.Value2,
		})
	}
	return lines
}

// buildReport collects everything the card will tell us. Register reads
// that fail are left out of the report rather than failing it.
func buildReport(disk *mmc.Disk, card *mmc.SPICard) Report {
	r := Report{Disk: disk.Name(), Card: card.Info()}
	if cid, err := card.ReadCID(); err == nil {
		r.CID = newCIDReport(cid)
	}
	if st, err := card.Status(); err == nil {
		r.Status = st
	}
	r.Events = eventLines(core.BusEvents())
	return r
}

// writeCBOR encodes r with core deterministic encoding.
func writeCBOR(w io.Writer, r Report) error {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return err
	}
	data, err := enc.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = w.Write(data)
	return err
}
