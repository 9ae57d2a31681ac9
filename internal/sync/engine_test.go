package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/extract"
	"github.com/crit-tech/gms-notebook-server/internal/filetype"
	"github.com/crit-tech/gms-notebook-server/internal/fs"
	"github.com/crit-tech/gms-notebook-server/internal/fs/local"
	"github.com/crit-tech/gms-notebook-server/internal/indexapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFS struct {
	files []*fs.FileRecord
	err   error
}

func (f *fakeFS) Root() string { return "/fake" }

func (f *fakeFS) ListAll(ctx context.Context) ([]*fs.FileRecord, error) {
	return f.files, f.err
}

func (f *fakeFS) OpenStream(relPath string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}

type fakeExtractor struct {
	errs map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, rec *fs.FileRecord) (*string, error) {
	if err := f.errs[rec.ID]; err != nil {
		return nil, err
	}
	if !rec.FileType.HasText() {
		return nil, nil
	}
	s := "text of " + rec.ID
	return &s, nil
}

type fakeClient struct {
	mu        gosync.Mutex
	changed   []string
	checkErr  error
	uploadErr map[string]error
	checked   []indexapi.CheckItem
	uploads   []*indexapi.FileUpload
	inflight  int
	maxFlight int
}

func (f *fakeClient) CheckChanged(ctx context.Context, files []indexapi.CheckItem) ([]string, error) {
	f.checked = files
	return f.changed, f.checkErr
}

func (f *fakeClient) UploadFile(ctx context.Context, file *indexapi.FileUpload) error {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxFlight {
		f.maxFlight = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	f.uploads = append(f.uploads, file)
	return f.uploadErr[file.ID]
}

func (f *fakeClient) uploadedIDs() []string {
	out := make([]string, 0, len(f.uploads))
	for _, u := range f.uploads {
		out = append(out, u.ID)
	}
	return out
}

func sampleFiles() []*fs.FileRecord {
	return []*fs.FileRecord{
		{ID: "/a.md", RelPath: "a.md", ContentHash: "h1", FileType: filetype.Markdown, Size: 10},
		{ID: "/b.pdf", RelPath: "b.pdf", ContentHash: "h2", FileType: filetype.PDF, Size: 20},
		{ID: "/c.jpg", RelPath: "c.jpg", ContentHash: "h3", FileType: filetype.Image, Size: 30},
	}
}

func newEngine(fsys fs.FileSystem, ex ContentExtractor, c IndexClient, isolate bool) *Engine {
	return NewEngine(&EngineOptions{
		LocalFS:              fsys,
		Extractor:            ex,
		Client:               c,
		IsolateExtractErrors: isolate,
	})
}

func TestRun_SendsAllFingerprints(t *testing.T) {
	client := &fakeClient{}
	e := newEngine(&fakeFS{files: sampleFiles()}, &fakeExtractor{}, client, false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []indexapi.CheckItem{
		{ID: "/a.md", ContentHash: "h1"},
		{ID: "/b.pdf", ContentHash: "h2"},
		{ID: "/c.jpg", ContentHash: "h3"},
	}, client.checked)
	assert.Empty(t, client.uploads)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, int64(60), report.TotalBytes)
	assert.Zero(t, report.Changed)
	assert.NotEmpty(t, report.PassID)
}

func TestRun_EmptyFolderStillChecks(t *testing.T) {
	client := &fakeClient{}
	e := newEngine(&fakeFS{}, &fakeExtractor{}, client, false)

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, client.checked)
	assert.Empty(t, client.checked)
}

func TestRun_UploadsOnlyChangedInScanOrder(t *testing.T) {
	client := &fakeClient{changed: []string{"/c.jpg", "/a.md", "/gone.md", "/a.md"}}
	e := newEngine(&fakeFS{files: sampleFiles()}, &fakeExtractor{}, client, false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.md", "/c.jpg"}, client.uploadedIDs())
	assert.Equal(t, 2, report.Changed)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, client.maxFlight)

	require.NotNil(t, client.uploads[0].Content)
	assert.Equal(t, "text of /a.md", *client.uploads[0].Content)
	assert.Equal(t, filetype.Markdown, client.uploads[0].FileType)
	assert.Equal(t, "h1", client.uploads[0].ContentHash)
	assert.Nil(t, client.uploads[1].Content)
}

func TestRun_ScanFailureAbortsBeforeCheck(t *testing.T) {
	client := &fakeClient{}
	e := newEngine(&fakeFS{err: os.ErrPermission}, &fakeExtractor{}, client, false)

	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, os.ErrPermission)
	assert.Nil(t, client.checked)
}

func TestRun_CheckFailureUploadsNothing(t *testing.T) {
	checkErr := &indexapi.StatusError{Op: "indexing check", StatusCode: 500, Status: "500 Internal Server Error"}
	client := &fakeClient{changed: []string{"/a.md"}, checkErr: checkErr}
	e := newEngine(&fakeFS{files: sampleFiles()}, &fakeExtractor{}, client, false)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	var se *indexapi.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Empty(t, client.uploads)
}

func TestRun_UploadFailureContinues(t *testing.T) {
	client := &fakeClient{
		changed:   []string{"/a.md", "/b.pdf", "/c.jpg"},
		uploadErr: map[string]error{"/b.pdf": errors.New("boom")},
	}
	e := newEngine(&fakeFS{files: sampleFiles()}, &fakeExtractor{}, client, false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.md", "/b.pdf", "/c.jpg"}, client.uploadedIDs())
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "/b.pdf", report.Failures[0].ID)
}

func TestRun_ExtractFailureAbortsPass(t *testing.T) {
	client := &fakeClient{changed: []string{"/a.md", "/b.pdf", "/c.jpg"}}
	ex := &fakeExtractor{errs: map[string]error{"/b.pdf": errors.New("malformed pdf")}}
	e := newEngine(&fakeFS{files: sampleFiles()}, ex, client, false)

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/b.pdf")
	assert.Equal(t, []string{"/a.md"}, client.uploadedIDs())
	assert.Equal(t, 1, report.Uploaded)
}

func TestRun_ExtractFailureIsolated(t *testing.T) {
	client := &fakeClient{changed: []string{"/a.md", "/b.pdf", "/c.jpg"}}
	ex := &fakeExtractor{errs: map[string]error{"/b.pdf": errors.New("malformed pdf")}}
	e := newEngine(&fakeFS{files: sampleFiles()}, ex, client, true)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.md", "/c.jpg"}, client.uploadedIDs())
	assert.Equal(t, 1, report.Failed)
}

func TestRun_NoContentIsSkipped(t *testing.T) {
	client := &fakeClient{changed: []string{"/a.md", "/b.pdf"}}
	ex := &fakeExtractor{errs: map[string]error{"/b.pdf": extract.ErrNoContent}}
	e := newEngine(&fakeFS{files: sampleFiles()}, ex, client, false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.md"}, client.uploadedIDs())
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
}

type recordingServer struct {
	mu      gosync.Mutex
	changed func(files []indexapi.CheckItem) []string
	checked []indexapi.CheckItem
	uploads []string // 原始请求体
}

func (rs *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch r.URL.Path {
	case "/api" + indexapi.CheckPath:
		var body indexapi.CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rs.checked = body.Files
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&indexapi.CheckResponse{ChangedFiles: rs.changed(body.Files)})
	case "/api" + indexapi.FilePath:
		raw, _ := io.ReadAll(r.Body)
		rs.uploads = append(rs.uploads, string(raw))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func runAgainst(t *testing.T, root string, rs *recordingServer) *Report {
	t.Helper()
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)

	client, err := indexapi.NewClient(&indexapi.Options{
		BaseURL: srv.URL + "/api",
		APIKey:  "secret",
		Port:    3001,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	adapter := local.NewAdapter(root, nil)
	e := NewEngine(&EngineOptions{
		LocalFS:   adapter,
		Extractor: extract.New(adapter),
		Client:    client,
	})

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestRun_EndToEndHelloMarkdown(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Hello.md"), []byte("# Hello\n\nIt's me.\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "samples"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "samples", "pixel.jpg"), []byte("\xff\xd8\xff"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("junk"), 0o644))

	rs := &recordingServer{changed: func([]indexapi.CheckItem) []string { return []string{"/hello.md"} }}
	report := runAgainst(t, root, rs)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	require.Len(t, rs.checked, 2)
	assert.Equal(t, indexapi.CheckItem{ID: "/hello.md", ContentHash: "a2c6c9c65b88ede7d27047e8cfdf64f0"}, rs.checked[0])
	assert.Equal(t, "/samples/pixel.jpg", rs.checked[1].ID)

	require.Len(t, rs.uploads, 1)
	assert.JSONEq(t, `{
		"id": "/hello.md",
		"contentHash": "a2c6c9c65b88ede7d27047e8cfdf64f0",
		"fileType": "markdown",
		"content": "# Hello\n\nIt's me.\n"
	}`, rs.uploads[0])
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.Uploaded)
}

func TestRun_EndToEndAllChanged(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Notes.md"), []byte("a\r\nb\r\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pixel.jpg"), []byte("\xff\xd8\xff"), 0o644))

	rs := &recordingServer{changed: func(files []indexapi.CheckItem) []string {
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		return ids
	}}
	report := runAgainst(t, root, rs)
	assert.Equal(t, 2, report.Uploaded)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Len(t, rs.uploads, 2)

	var notes, pixel map[string]any
	require.NoError(t, json.Unmarshal([]byte(rs.uploads[0]), &notes))
	require.NoError(t, json.Unmarshal([]byte(rs.uploads[1]), &pixel))
	assert.Equal(t, "/notes.md", notes["id"])
	assert.Equal(t, "a\nb\n", notes["content"])
	assert.Equal(t, "/pixel.jpg", pixel["id"])
	assert.Equal(t, "image", pixel["fileType"])
	assert.NotContains(t, pixel, "content")
}
