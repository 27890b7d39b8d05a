package entity

// RunMeta is the persisted summary of an upload run.
type RunMeta struct {
	ID        string
	Table     string
	State     RunState
	Err       string
	StartedAt int64
	EndedAt   int64

	TotalRows      int
	SuccessfulRows int
	FailedRows     int

	// First pass and retry bookkeeping
	ChunkSizes      []int
	FailedChunks    int
	RetryLevels     int
	RecoveredRows   int
	UnconfirmedRows int
	Artifact        string
	CleaningErrors  int
	BlankAmountRows int
}

// PartialFailure reports whether some rows ended in the failure artifact.
func (m RunMeta) PartialFailure() bool {
	return m.State == RunStatePartialFailure
}

// Artifact describes where permanently failed rows were written.
type Artifact struct {
	// Key is the object key inside the bucket; empty when Skipped.
	Key string
	// URL is the bucket URL joined with Key, for operators.
	URL     string
	Rows    int
	Skipped bool
}

// RunFinishedEvent is published once a run reaches a terminal state.
type RunFinishedEvent struct {
	EventID         string   `json:"event_id"`
	RunID           string   `json:"run_id"`
	Table           string   `json:"table"`
	State           RunState `json:"state"`
	TotalRows       int      `json:"total_rows"`
	SuccessfulRows  int      `json:"successful_rows"`
	FailedRows      int      `json:"failed_rows"`
	UnconfirmedRows int      `json:"unconfirmed_rows,omitempty"`
	Artifact        string   `json:"artifact,omitempty"`
	Err             string   `json:"error,omitempty"`
	OccurredAt      int64    `json:"occurred_at"`
}
