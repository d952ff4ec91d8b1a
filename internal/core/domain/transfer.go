package domain

import "time"

// ChunkDescriptor is the byte range [Start, End) of a payload uploaded as one sub-request
type ChunkDescriptor struct {
	Index    int
	Start    int64
	End      int64
	Attempts int
}

// Len returns the chunk length in bytes
func (c ChunkDescriptor) Len() int64 {
	return c.End - c.Start
}

// PartNumber is the 1-based part number used by multipart stores
func (c ChunkDescriptor) PartNumber() int {
	return c.Index + 1
}

// TransferMetrics is the outcome of one transfer run
type TransferMetrics struct {
	TotalChunks      int           `json:"total_chunks"`
	SuccessfulChunks int           `json:"successful_chunks"`
	FailedChunks     int           `json:"failed_chunks"`
	Retries          int           `json:"retries"`
	BytesTransferred int64         `json:"bytes_transferred"`
	ChunkSize        int64         `json:"chunk_size"`
	Duration         time.Duration `json:"duration"`
	AverageSpeed     float64       `json:"average_speed"`
}

// RetryAttempt is the transient record of one scheduled retry
type RetryAttempt struct {
	Index        int           `json:"index"`
	NominalDelay time.Duration `json:"nominal_delay"`
	Delay        time.Duration `json:"delay"`
	Class        ErrorClass    `json:"class"`
	Chunk        *int          `json:"chunk,omitempty"`
}
