package storage

import "strings"

// ArchiveMode represents the DynamoDB connection mode of the history archive
type ArchiveMode string

const (
	ArchiveModeLocal ArchiveMode = "local"
	ArchiveModeAWS   ArchiveMode = "aws"
	ArchiveModeNone  ArchiveMode = "none"
)

// ParseArchiveMode maps unknown values to ArchiveModeNone
func ParseArchiveMode(s string) ArchiveMode {
	mode := ArchiveMode(strings.ToLower(strings.TrimSpace(s)))
	if mode != ArchiveModeLocal && mode != ArchiveModeAWS {
		return ArchiveModeNone
	}
	return mode
}

// ArchiveConfig holds DynamoDB archive configuration
type ArchiveConfig struct {
	Mode     ArchiveMode
	Endpoint string // for local mode
	Region   string
	Table    string
}

// StoreMode selects the primary record store
type StoreMode string

const (
	StoreModeMemory   StoreMode = "memory"
	StoreModePostgres StoreMode = "postgres"
)
