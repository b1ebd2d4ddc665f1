package domain

// RawLog is an undecoded log entry returned by the log provider.
type RawLog struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Removed     bool

	// ParseErr is set for a provider entry that could not be parsed. The
	// decoder rejects such entries.
	ParseErr error
}
