package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosureClientCompile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/compile", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SIMPLE_OPTIMIZATIONS", r.PostForm.Get("compilation_level"))
		assert.Equal(t, "text", r.PostForm.Get("output_format"))
		assert.Equal(t, OutputCompiledCode, r.PostForm.Get("output_info"))
		assert.Equal(t, []string{"https://example.org/raw/master/js/a.js", "https://example.org/raw/master/js/b.js"}, r.PostForm["code_url"])
		_, _ = w.Write([]byte("var a=1;"))
	}))
	defer srv.Close()

	c := &ClosureClient{Endpoint: srv.URL + "/compile"}
	data, err := c.Compile(context.Background(), CompileRequest{
		CodeURLs:   []string{"https://example.org/raw/master/js/a.js", "https://example.org/raw/master/js/b.js"},
		OutputInfo: OutputCompiledCode,
	})
	require.NoError(t, err)
	assert.Equal(t, "var a=1;", string(data))
}

func TestClosureClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &ClosureClient{Endpoint: srv.URL}
	data, err := c.Compile(context.Background(), CompileRequest{OutputInfo: OutputErrors})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "boom\n", string(data))
}

func TestClosureClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := &ClosureClient{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}
	_, err := c.Compile(context.Background(), CompileRequest{OutputInfo: OutputCompiledCode})
	assert.Error(t, err)
}

func TestCodeURLs(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"local_scripts/d3.v3.js": "",
		"js/dev.js":              "",
		"js/main.js":             "",
		"js/util.js":             "",
		"js/graph/node.js":       "",
		"index.html":             "",
	})

	urls, err := CodeURLs(dir, "local_scripts", "js", "dev.js", "https://bitbucket.org/bestchai/shiviz/raw/", "master")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://bitbucket.org/bestchai/shiviz/raw/master/local_scripts/d3.v3.js",
		"https://bitbucket.org/bestchai/shiviz/raw/master/js/main.js",
		"https://bitbucket.org/bestchai/shiviz/raw/master/js/util.js",
		"https://bitbucket.org/bestchai/shiviz/raw/master/js/graph/node.js",
	}, urls)
}
