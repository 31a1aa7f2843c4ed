// Package localdriver is a reference Adapter implementation backed by gorm,
// used in tests and local development in place of a real distributed
// ledger. It honours the same contract semantics the port promises
// (spec §6: at-most-once command effects, monotonic offsets, archived
// contracts absent from subsequent queries) without speaking to any
// external system.
package localdriver

import (
	"time"

	"gorm.io/gorm"
)

// contractRow is the single physical table every template is stored in,
// mirroring the port's own normalized ContractEntry shape rather than one
// gorm model per template.
type contractRow struct {
	gorm.Model
	ContractID string `gorm:"uniqueIndex;size:64"`
	TemplateID string `gorm:"index;size:32"`
	PayloadRaw string `gorm:"type:text"`
	Archived   bool   `gorm:"index"`
	ArchivedAt *time.Time
	Offset     int64 `gorm:"index"`
}

func (contractRow) TableName() string { return "ledger_contracts" }

// offsetRow tracks the monotonic offset counter, persisted so a restarted
// localdriver keeps handing out increasing offsets.
type offsetRow struct {
	gorm.Model
	Counter int64
}

func (offsetRow) TableName() string { return "ledger_offsets" }
