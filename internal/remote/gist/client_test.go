package gist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"tripsync/internal/domain"
	"tripsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGist struct {
	mu        sync.Mutex
	files     map[string]*File
	truncated bool
	rawHits   int
	srv       *httptest.Server
}

func newFakeGist(t *testing.T) *fakeGist {
	f := &fakeGist{files: map[string]*File{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/gists/g1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			out := map[string]*File{}
			for name, file := range f.files {
				cp := *file
				cp.Filename = name
				if f.truncated {
					cp.Content = cp.Content[:len(cp.Content)/2]
					cp.Truncated = true
					cp.RawURL = f.srv.URL + "/raw/" + name
				}
				out[name] = &cp
			}
			json.NewEncoder(w).Encode(Gist{ID: "g1", Files: out})
		case http.MethodPatch:
			var body struct {
				Files map[string]*File `json:"files"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			for name, file := range body.Files {
				f.files[name] = &File{Content: file.Content}
			}
			json.NewEncoder(w).Encode(Gist{ID: "g1", Files: f.files})
		}
	})
	mux.HandleFunc("/raw/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.rawHits++
		name := r.URL.Path[len("/raw/"):]
		w.Write([]byte(f.files[name].Content))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGist) client(token string) *Client {
	return New(Config{BaseURL: f.srv.URL, GistID: "g1", Token: token})
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFakeGist(t)
	c := f.client("tok")
	ctx := context.Background()

	_, err := c.FetchSnapshot(ctx)
	assert.ErrorIs(t, err, remote.ErrNotFound)

	snap := map[string]string{
		"trip_plan_data": `{"id":"trip-1","_version":2}`,
		"current_day":    `"day2"`,
	}
	require.NoError(t, c.PushSnapshot(ctx, snap))

	got, err := c.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestFetchSnapshot_FollowsRawURL(t *testing.T) {
	f := newFakeGist(t)
	c := f.client("tok")
	ctx := context.Background()

	snap := map[string]string{"trip_plan_data": `{"id":"trip-1"}`}
	require.NoError(t, c.PushSnapshot(ctx, snap))
	f.truncated = true

	got, err := c.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Equal(t, 1, f.rawHits)
}

func TestPushBackup(t *testing.T) {
	f := newFakeGist(t)
	c := f.client("tok")

	rec := domain.BackupRecord{Key: "1700_abc", Kind: domain.BackupKindComment, DayID: "day1", ItemID: "a", Hash: "c1", Payload: json.RawMessage(`{"message":"hi"}`)}
	require.NoError(t, c.PushBackup(context.Background(), rec))

	file, ok := f.files["_backup_1700_abc.json"]
	require.True(t, ok)
	var got domain.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(file.Content), &got))
	assert.Equal(t, "c1", got.Hash)
	assert.Empty(t, f.files[defaultFileName], "main snapshot untouched")
}

func TestBadCredentials(t *testing.T) {
	f := newFakeGist(t)
	err := f.client("nope").PushSnapshot(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad credentials")
}
