// Package testutil provides testing utilities.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/bikaxh01/toothsi-bot/internal/client"
)

// Endpoint names a route of the fake remote batch service.
type Endpoint string

const (
	EndpointUpload  Endpoint = "upload"
	EndpointBatches Endpoint = "batches"
	EndpointCalls   Endpoint = "calls"
	EndpointRedial  Endpoint = "redial"
)

// FakeRemote is an in-memory remote batch service served over httptest.
type FakeRemote struct {
	mu       sync.Mutex
	srv      *httptest.Server
	batches  []client.RemoteBatch
	calls    map[string][]client.RemoteCall
	statuses map[Endpoint]int
	hits     map[string]int
	uploads  []string
	nextID   int

	// NestedBatchID makes upload replies carry the batch id only inside
	// calls[0], not at the top level.
	NestedBatchID bool
	// UploadCalls is the call list created for each uploaded batch.
	UploadCalls []client.RemoteCall
	// RedialGate, when set, holds every redial until it is closed or
	// receives a value.
	RedialGate chan struct{}
}

// NewFakeRemote starts a fake remote service. Close it when done.
func NewFakeRemote() *FakeRemote {
	f := &FakeRemote{
		calls:    make(map[string][]client.RemoteCall),
		statuses: make(map[Endpoint]int),
		hits:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handle)
	f.srv = httptest.NewServer(mux)
	return f
}

// URL is the base URL of the fake service.
func (f *FakeRemote) URL() string { return f.srv.URL }

// Close shuts the server down.
func (f *FakeRemote) Close() { f.srv.Close() }

// AddBatch registers a batch and its calls.
func (f *FakeRemote) AddBatch(id, fileName string, calls ...client.RemoteCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, client.RemoteBatch{ID: id, FileName: fileName, CreatedAt: "2025-03-01T10:00:00"})
	f.calls[id] = append([]client.RemoteCall(nil), calls...)
}

// SetCalls replaces the call list of a batch.
func (f *FakeRemote) SetCalls(batchID string, calls ...client.RemoteCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[batchID] = append([]client.RemoteCall(nil), calls...)
}

// Fail makes an endpoint answer with status. Zero restores normal replies.
func (f *FakeRemote) Fail(e Endpoint, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.statuses, e)
		return
	}
	f.statuses[e] = status
}

// Hits returns how often a path was requested, e.g. "/calls/batch/b1".
func (f *FakeRemote) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// Uploads returns the file names received by /upload.
func (f *FakeRemote) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// Call builds a remote call record.
func Call(id, batchID, status string) client.RemoteCall {
	name := "Contact " + id
	email := id + "@example.com"
	phone := "+10000000000"
	return client.RemoteCall{
		ID:        id,
		BatchID:   batchID,
		Status:    status,
		User:      &client.RemoteUser{Name: &name, Email: &email, Phone: &phone},
		CreatedAt: "2025-03-01T10:00:00",
		UpdatedAt: "2025-03-01T10:00:00",
	}
}

func (f *FakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/upload":
		f.handleUpload(w, r)
	case r.Method == http.MethodGet && path == "/batches":
		f.handleBatches(w)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/calls/batch/"):
		f.handleCalls(w, strings.TrimPrefix(path, "/calls/batch/"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/calls/") && strings.HasSuffix(path, "/redial"):
		f.handleRedial(w, strings.TrimSuffix(strings.TrimPrefix(path, "/calls/"), "/redial"))
	case r.Method == http.MethodGet && path == "/":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	}
}

func (f *FakeRemote) injected(e Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[e]
}

func (f *FakeRemote) handleUpload(w http.ResponseWriter, r *http.Request) {
	if status := f.injected(EndpointUpload); status != 0 {
		writeJSON(w, status, map[string]string{"detail": "Error processing file"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "file field required"})
		return
	}
	_, _ = io.Copy(io.Discard, file)
	file.Close()

	f.mu.Lock()
	f.nextID++
	batchID := fmt.Sprintf("batch-%d", f.nextID)
	calls := make([]client.RemoteCall, 0, len(f.UploadCalls))
	for _, c := range f.UploadCalls {
		c.BatchID = batchID
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		calls = append(calls, Call("c1", batchID, "initiated"))
	}
	f.batches = append(f.batches, client.RemoteBatch{ID: batchID, FileName: header.Filename})
	f.calls[batchID] = calls
	f.uploads = append(f.uploads, header.Filename)
	nested := f.NestedBatchID
	f.mu.Unlock()

	resp := client.UploadResponse{
		Message:          "File uploaded and processed successfully",
		OriginalFilename: header.Filename,
		TotalUsers:       len(calls),
		Calls:            calls,
	}
	if !nested {
		resp.BatchID = batchID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeRemote) handleBatches(w http.ResponseWriter) {
	if status := f.injected(EndpointBatches); status != 0 {
		writeJSON(w, status, map[string]string{"detail": "Error listing batches"})
		return
	}

	f.mu.Lock()
	batches := append([]client.RemoteBatch{}, f.batches...)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, batches)
}

func (f *FakeRemote) handleCalls(w http.ResponseWriter, batchID string) {
	if status := f.injected(EndpointCalls); status != 0 {
		writeJSON(w, status, map[string]string{"detail": "Error fetching calls"})
		return
	}

	f.mu.Lock()
	calls := append([]client.RemoteCall(nil), f.calls[batchID]...)
	f.mu.Unlock()

	if len(calls) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"detail": fmt.Sprintf("No calls found for batch ID: %s", batchID),
		})
		return
	}

	writeJSON(w, http.StatusOK, client.BatchCallsResponse{
		BatchID:    batchID,
		TotalCalls: len(calls),
		Calls:      calls,
	})
}

func (f *FakeRemote) handleRedial(w http.ResponseWriter, callID string) {
	f.mu.Lock()
	gate := f.RedialGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if status := f.injected(EndpointRedial); status != 0 {
		writeJSON(w, status, map[string]string{"detail": "Error redialing call"})
		return
	}

	writeJSON(w, http.StatusOK, client.RedialResponse{
		CallID: callID + "-redial",
		Status: "initiated",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
