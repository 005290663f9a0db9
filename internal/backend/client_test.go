package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/backend"
)

// newTestBackend runs an httptest server routing each path to its handler
func newTestBackend(t *testing.T, handlers map[string]http.HandlerFunc) backend.Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return backend.NewDefaultClient(server.URL, 5*time.Second)
}

func respond(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestStartAuth(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/auth/start": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			respond(t, w, map[string]any{
				"success":          true,
				"device_code":      "dev-123",
				"user_code":        "ABCD-EFGH",
				"verification_uri": "https://github.com/login/device",
				"expires_in":       900,
				"interval":         5,
			})
		},
	})

	auth, err := client.StartAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-123", auth.DeviceCode)
	assert.Equal(t, "ABCD-EFGH", auth.UserCode)
	assert.Equal(t, "https://github.com/login/device", auth.VerificationURI)
	assert.Equal(t, 5, auth.Interval)
}

func TestStartAuthRejectsIncompleteChallenge(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/auth/start": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{"success": true, "device_code": "dev-123"})
		},
	})

	_, err := client.StartAuth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing device flow fields")
}

func TestPollAuthStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus backend.AuthPollStatus
		wantToken  string
	}{
		{
			name:       "authorized",
			body:       map[string]any{"success": true, "access_token": "gho_tok"},
			wantStatus: backend.AuthAuthorized,
			wantToken:  "gho_tok",
		},
		{
			name:       "pending",
			body:       map[string]any{"success": false, "pending": true},
			wantStatus: backend.AuthPending,
		},
		{
			name:       "slow down",
			body:       map[string]any{"success": false, "slow_down": true},
			wantStatus: backend.AuthSlowDown,
		},
		{
			name:       "expired",
			body:       map[string]any{"success": false, "error": "expired_token"},
			wantStatus: backend.AuthExpiredOrDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestBackend(t, map[string]http.HandlerFunc{
				"/api/github/auth/poll": func(w http.ResponseWriter, r *http.Request) {
					var req map[string]string
					require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "dev-123", req["device_code"])
					respond(t, w, tt.body)
				},
			})

			result, err := client.PollAuth(context.Background(), "dev-123")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantToken, result.Token)
		})
	}
}

func TestListCatalog(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/repos": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]int
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 2, req["page"])
			respond(t, w, map[string]any{
				"success": true,
				"repos": []map[string]any{
					{"id": 1, "full_name": "octocat/hello", "default_branch": "main", "private": true},
				},
				"has_more":    true,
				"total_count": 31,
			})
		},
	})

	page, err := client.ListCatalog(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "octocat/hello", page.Entries[0].FullName)
	assert.True(t, page.Entries[0].Private)
	assert.True(t, page.HasMore)
	assert.Equal(t, 31, page.TotalCount)
}

func TestEnvelopeErrorSurfaces(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/clone": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{"success": false, "error": "repository not found"})
		},
	})

	_, err := client.Clone(context.Background(), "octocat/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository not found")
}

func TestCloneDecodesResult(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/clone": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "octocat/hello", req["full_name"])
			respond(t, w, map[string]any{
				"success":        true,
				"local_path":     "/data/repos/octocat_hello",
				"default_branch": "main",
			})
		},
	})

	result, err := client.Clone(context.Background(), "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, "/data/repos/octocat_hello", result.LocalPath)
	assert.Equal(t, "main", result.DefaultBranch)
}

func TestBranchIndexStatusQuery(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/branch/status": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "octocat/hello", r.URL.Query().Get("full_name"))
			assert.Equal(t, "develop", r.URL.Query().Get("branch"))
			respond(t, w, map[string]any{
				"success":             true,
				"has_index":           true,
				"total_chunks":        120,
				"chunk_counts":        map[string]int{"gist": 120},
				"last_indexed_commit": "abc123",
			})
		},
	})

	status, err := client.BranchIndexStatus(context.Background(), "octocat/hello", "develop")
	require.NoError(t, err)
	assert.True(t, status.HasIndex)
	assert.Equal(t, 120, status.TotalChunks)
	assert.Equal(t, "abc123", status.LastIndexedCommit)
}

func TestDiffMergesNestedChanges(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/changes": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{
				"success": true,
				"changes": map[string]any{
					"added":    []string{"new.go"},
					"modified": []string{"main.go", "util.go"},
					"removed":  []string{},
				},
				"total_changes": 3,
			})
		},
	})

	diff, err := client.Diff(context.Background(), "octocat/hello", "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.go"}, diff.Added)
	assert.Equal(t, []string{"main.go", "util.go"}, diff.Modified)
	assert.Equal(t, 3, diff.TotalChanges)
}

func TestFetchConvertsUnixTimestamp(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/fetch": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{
				"success":   true,
				"ahead":     2,
				"behind":    5,
				"timestamp": 1756123200,
			})
		},
	})

	result, err := client.Fetch(context.Background(), "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Ahead)
	assert.Equal(t, 5, result.Behind)
	assert.True(t, result.Timestamp.Equal(time.Unix(1756123200, 0)))
}

func TestRetryDecodesSnapshot(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/retry-repo": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{
				"success":        true,
				"needs_indexing": true,
				"repo": map[string]any{
					"full_name":     "octocat/hello",
					"status":        "cloned",
					"active_branch": "main",
					"local_path":    "/data/repos/octocat_hello",
				},
			})
		},
	})

	result, err := client.Retry(context.Background(), "octocat/hello")
	require.NoError(t, err)
	assert.True(t, result.NeedsIndexing)
	require.NotNil(t, result.Repo)
	assert.Equal(t, "cloned", result.Repo.Status)
	assert.Equal(t, "/data/repos/octocat_hello", result.Repo.LocalPath)
}

func TestStartIndexSendsFullRequest(t *testing.T) {
	t.Parallel()
	var got backend.IndexRequest
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/index": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			respond(t, w, map[string]any{"success": true})
		},
	})

	err := client.StartIndex(context.Background(), &backend.IndexRequest{
		FullName:  "octocat/hello",
		Branch:    "main",
		Mode:      "gist",
		Excludes:  []string{"node_modules/"},
		MaxSizeMB: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "octocat/hello", got.FullName)
	assert.Equal(t, "gist", got.Mode)
	assert.Equal(t, []string{"node_modules/"}, got.Excludes)
}

func TestListBranches(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/github/branches": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "octocat/hello", r.URL.Query().Get("full_name"))
			respond(t, w, map[string]any{
				"success": true,
				"branches": []map[string]any{
					{"name": "main", "commit_sha": "abc", "protected": true, "available_locally": true},
					{"name": "develop", "commit_sha": "def"},
				},
			})
		},
		"/api/github/branches/indexed": func(w http.ResponseWriter, _ *http.Request) {
			respond(t, w, map[string]any{
				"success": true,
				"branches": []map[string]any{
					{"name": "main", "total_chunks": 120, "file_count": 40},
				},
			})
		},
	})

	branches, err := client.ListBranches(context.Background(), "octocat/hello")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.True(t, branches[0].Protected)

	indexed, err := client.ListIndexedBranches(context.Background(), "octocat/hello")
	require.NoError(t, err)
	require.Len(t, indexed, 1)
	assert.Equal(t, 120, indexed[0].TotalChunks)
}

func TestHTTPErrorPropagates(t *testing.T) {
	t.Parallel()
	client := newTestBackend(t, map[string]http.HandlerFunc{
		"/api/index/status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		},
	})

	_, err := client.IndexStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
