package queue

import "time"

// Channel names shared by the pipeline.
const (
	ChannelVerification = "verification"
	ChannelStorage      = "storage"
	ChannelStatistics   = "statistics"
)

// ChannelNames lists every pipeline channel in data-flow order.
var ChannelNames = []string{ChannelStatistics, ChannelVerification, ChannelStorage}

// TransferRecord describes one completed transfer from a unit.
type TransferRecord struct {
	Hostname         string        `json:"hostname"`
	SourcePath       string        `json:"source_path"`
	DestinationDir   string        `json:"destination_dir"`
	Sequence         int64         `json:"sequence"`
	FileSize         int64         `json:"file_size"`
	TransferDuration time.Duration `json:"transfer_duration_ns"`
	ReceivedAt       time.Time     `json:"received_at"`
}

// VerifyItem is a staged file awaiting plausibility checks.
type VerifyItem struct {
	Hostname       string `json:"hostname"`
	SourcePath     string `json:"source_path"`
	DestinationDir string `json:"destination_dir"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// StoreItem is a verified file awaiting relocation into canonical storage.
type StoreItem struct {
	SourcePath     string `json:"source_path"`
	DestinationDir string `json:"destination_dir"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// StatsItem carries a transfer record, or nothing when a stage only wants
// the statistics loop to refresh the report.
type StatsItem struct {
	Record *TransferRecord `json:"record,omitempty"`
}

// IsNoop reports whether the item is the refresh-only sentinel.
func (s StatsItem) IsNoop() bool {
	return s.Record == nil
}

// UnitHealth is the persisted health state for one unit. Nil fields mean the
// unit has never delivered a file.
type UnitHealth struct {
	LastReceivedAt       *time.Time
	LastSequenceNumber   *int64
	LastFileSize         *int64
	LastTransferDuration *time.Duration
}

// Seen reports whether the unit ever delivered a file.
func (h UnitHealth) Seen() bool {
	return h.LastReceivedAt != nil
}

// Entry is one durable channel element.
type Entry[T any] struct {
	ID         int64
	Item       T
	EnqueuedAt time.Time
}

// ChannelSummary is a read-only view of one channel for status output.
type ChannelSummary struct {
	Name        string
	Depth       int
	HeadID      int64
	HeadPayload string
	HeadSince   time.Time
}
