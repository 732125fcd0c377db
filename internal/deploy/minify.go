package deploy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	OutputCompiledCode = "compiled_code"
	OutputErrors       = "errors"
)

// CompileRequest is one submission to the compilation service.
type CompileRequest struct {
	CodeURLs   []string
	OutputInfo string
}

// StatusError is returned with the response body when the service answers
// with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("compile service returned %s", e.Status)
}

// Minifier compiles remote JavaScript sources into a single bundle.
type Minifier interface {
	Compile(ctx context.Context, req CompileRequest) ([]byte, error)
}

// ClosureClient talks to a Closure Compiler style web service.
type ClosureClient struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

func (c *ClosureClient) Compile(ctx context.Context, req CompileRequest) (data []byte, err error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("compilation_level", "SIMPLE_OPTIMIZATIONS")
	form.Set("output_format", "text")
	form.Set("output_info", req.OutputInfo)
	for _, u := range req.CodeURLs {
		form.Add("code_url", u)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		err = fmt.Errorf("failed to build compile request: %w", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("compile request failed: %w", err)
		return
	}
	defer resp.Body.Close()

	if data, err = io.ReadAll(resp.Body); err != nil {
		err = fmt.Errorf("failed to read compile response: %w", err)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return
}

// CodeURLs lists the sources submitted for compilation: every file under
// localDir, then every file under scriptsDir whose name lacks devMarker, each
// resolved against base and branch.
func CodeURLs(srcDir, localDir, scriptsDir, devMarker, base, branch string) (urls []string, err error) {
	prefix := strings.TrimSuffix(base, "/") + "/" + branch + "/"

	local, err := ListFiles(srcDir, localDir)
	if err != nil {
		return
	}
	for _, f := range local {
		urls = append(urls, prefix+f)
	}

	scripts, err := ListFiles(srcDir, scriptsDir)
	if err != nil {
		return
	}
	for _, f := range scripts {
		name := f[strings.LastIndex(f, "/")+1:]
		if devMarker != "" && strings.Contains(name, devMarker) {
			continue
		}
		urls = append(urls, prefix+f)
	}
	return
}
