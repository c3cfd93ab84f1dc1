package model

import "time"

// Exception is an unexpected failure persisted for later inspection,
// e.g. a recovered panic inside a subscriber task.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "signalrelay"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "broadcast"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "BroadcastSignal"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// JSON encoded key/values (subscriber id, signal id, ...)
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string { return "exceptions" }
