package lode

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// ResultsFile is the sidecar name for a process's raw results document.
const ResultsFile = "results.json"

// FileWriter stores per-process sidecar files beside the event records.
// Files bypass the dataset's manifests.
type FileWriter interface {
	// PutFile writes data under the process's files/ prefix. The
	// filename must not contain path separators or "..".
	PutFile(ctx context.Context, processID, filename string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// PutFile implements FileWriter.
func (c *LodeClient) PutFile(ctx context.Context, processID, filename string, data []byte) error {
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("invalid sidecar filename %q", filename)
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return wrapError("put", filename, err)
	}
	path := c.filePath(processID, DeriveDay(time.Now()), filename)
	return wrapError("put", path, store.Put(ctx, path, bytes.NewReader(data)))
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// filePath is
// datasets/<dataset>/partitions/session_id=<s>/day=<d>/process_id=<p>/files/<filename>.
func (c *LodeClient) filePath(processID, day, filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/session_id=%s/day=%s/process_id=%s/files/%s",
		c.config.Dataset, c.config.SessionID, day, processID, filename)
}

// StubFileWriter records PutFile calls for testing.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is one recorded PutFile call.
type StubFileRecord struct {
	ProcessID string
	Filename  string
	Data      []byte
}

// NewStubFileWriter creates a stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile implements FileWriter.
func (w *StubFileWriter) PutFile(_ context.Context, processID, filename string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{ProcessID: processID, Filename: filename, Data: data})
	return nil
}

// Recorded returns a copy of the recorded calls.
func (w *StubFileWriter) Recorded() []StubFileRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]StubFileRecord(nil), w.Files...)
}

var _ FileWriter = (*StubFileWriter)(nil)
