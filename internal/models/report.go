package models

// File statuses reported by a sync.
const (
	FileStatusNew       = "new"
	FileStatusReplaced  = "replaced"
	FileStatusUnchanged = "unchanged"
	FileStatusFailed    = "failed"
)

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	OldChunks int    `json:"old_chunks"`
	NewChunks int    `json:"new_chunks"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// ReplacedFile records a document whose previous generation was replaced.
type ReplacedFile struct {
	Filename  string `json:"filename"`
	OldChunks int    `json:"old_chunks"`
	NewChunks int    `json:"new_chunks"`
}

// RemovedFile records a document dropped because its backing file disappeared.
type RemovedFile struct {
	Filename  string `json:"filename"`
	OldChunks int    `json:"old_chunks"`
}

// FailedFile records a file that could not be ingested.
type FailedFile struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// SyncReport summarizes a directory sync.
type SyncReport struct {
	Success            bool           `json:"success"`
	Message            string         `json:"message"`
	Kind               string         `json:"kind,omitempty"`
	Directory          string         `json:"directory"`
	DocumentsProcessed int            `json:"documents_processed"`
	Files              []FileResult   `json:"files"`
	ReplacedFiles      []ReplacedFile `json:"replaced_files"`
	NewFiles           []string       `json:"new_files"`
	UnchangedFiles     []string       `json:"unchanged_files"`
	RemovedFiles       []RemovedFile  `json:"removed_files"`
	FailedFiles        []FailedFile   `json:"failed_files"`
	TotalChunks        int            `json:"total_chunks"`
	ProcessingTime     float64        `json:"processing_time"`
}

// NewSyncReport returns an empty report with non-nil slices so it encodes as arrays.
func NewSyncReport(dir string) *SyncReport {
	return &SyncReport{
		Directory:      dir,
		Files:          []FileResult{},
		ReplacedFiles:  []ReplacedFile{},
		NewFiles:       []string{},
		UnchangedFiles: []string{},
		RemovedFiles:   []RemovedFile{},
		FailedFiles:    []FailedFile{},
	}
}

// UpsertResult is the outcome of ingesting a single document.
type UpsertResult struct {
	Filename  string `json:"filename"`
	Replaced  bool   `json:"replaced"`
	Unchanged bool   `json:"unchanged,omitempty"`
	OldChunks int    `json:"old_chunks"`
	NewChunks int    `json:"new_chunks"`
}

// DeleteResult is the outcome of deleting a document.
type DeleteResult struct {
	Filename      string `json:"filename"`
	Found         bool   `json:"found"`
	DeletedChunks int    `json:"deleted_chunks"`
}

// Status is a snapshot of the index.
type Status struct {
	Status             string `json:"status"`
	DocumentChunkCount int    `json:"document_chunk_count"`
	// DocumentsCount repeats DocumentChunkCount under the key older web clients read.
	DocumentsCount     int    `json:"documents_count"`
	DocumentCount      int    `json:"distinct_documents"`
	StorageSizeBytes   int64  `json:"storage_size_bytes"`
	StorageSize        string `json:"storage_size"`
	CollectionName     string `json:"collection_name"`
	DataDirectory      string `json:"data_directory"`
	Backend            string `json:"backend"`
}

// ConsistencyReport compares the files on disk with the documents in the index.
type ConsistencyReport struct {
	Directory    string   `json:"directory"`
	DiskFiles    int      `json:"disk_files"`
	IndexedFiles int      `json:"indexed_files"`
	OnlyOnDisk   []string `json:"only_on_disk"`
	OnlyInIndex  []string `json:"only_in_index"`
	Common       []string `json:"common"`
	Consistent   bool     `json:"consistent"`
}
