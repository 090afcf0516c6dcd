package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const githubAPIVersion = "2022-11-28"

// GitHubOptions configures a repository content API backend.
type GitHubOptions struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	// APIURL is the REST base, e.g. https://api.github.com.
	APIURL string
	// RawURL is the base of durable file URLs, e.g. https://raw.githubusercontent.com.
	RawURL     string
	HTTPClient *http.Client
}

// githubStore implements Store against the GitHub repository contents API.
// It is safe for concurrent use by multiple goroutines.
type githubStore struct {
	client  *http.Client
	token   string
	owner   string
	repo    string
	branch  string
	apiURL  string
	rawBase string
}

// NewGitHub creates a Store backed by one branch of a GitHub repository.
func NewGitHub(opt GitHubOptions) (Store, error) {
	if opt.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if opt.Owner == "" || opt.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if opt.Branch == "" {
		opt.Branch = "main"
	}
	if opt.APIURL == "" {
		opt.APIURL = "https://api.github.com"
	}
	if opt.RawURL == "" {
		opt.RawURL = "https://raw.githubusercontent.com"
	}
	client := opt.HTTPClient
	if client == nil {
		client = NewHTTPClient(HTTPClientOptions{MaxRetries: 3})
	}
	return &githubStore{
		client:  client,
		token:   opt.Token,
		owner:   opt.Owner,
		repo:    opt.Repo,
		branch:  opt.Branch,
		apiURL:  strings.TrimRight(opt.APIURL, "/"),
		rawBase: fmt.Sprintf("%s/%s/%s/%s/", strings.TrimRight(opt.RawURL, "/"), opt.Owner, opt.Repo, opt.Branch),
	}, nil
}

type contentItem struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
}

func (g *githubStore) contentsURL(p string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.apiURL, url.PathEscape(g.owner), url.PathEscape(g.repo), EscapePath(p))
}

func (g *githubStore) newRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (g *githubStore) do(req *http.Request, op, p string) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, p, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", op, p, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", op, p, ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%s %s: %w: %s", op, p, ErrConflict, msg)
	default:
		return nil, fmt.Errorf("%s %s: status %d: %s", op, p, resp.StatusCode, msg)
	}
}

func (g *githubStore) fetch(ctx context.Context, p string) ([]byte, error) {
	u := g.contentsURL(p) + "?ref=" + url.QueryEscape(g.branch)
	req, err := g.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return g.do(req, "get", p)
}

// Get downloads a file. Files above the inline limit of the contents API come back
// without content; those are fetched from download_url.
func (g *githubStore) Get(ctx context.Context, p string) (*File, error) {
	p = CleanPath(p)
	body, err := g.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, fmt.Errorf("get %s: path is a directory", p)
	}
	var item contentItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("get %s: decode response: %w", p, err)
	}

	var content []byte
	if item.Content == "" && item.Size > 0 {
		if item.DownloadURL == "" {
			return nil, fmt.Errorf("get %s: no inline content and no download url", p)
		}
		content, err = g.download(ctx, item.DownloadURL, p)
		if err != nil {
			return nil, err
		}
	} else {
		content, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(item.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("get %s: decode content: %w", p, err)
		}
	}
	return &File{Path: p, SHA: item.SHA, Content: content}, nil
}

func (g *githubStore) download(ctx context.Context, u, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	return g.do(req, "download", p)
}

func (g *githubStore) Put(ctx context.Context, p string, content []byte, message, sha string) (string, error) {
	p = CleanPath(p)
	req, err := g.newRequest(ctx, http.MethodPut, g.contentsURL(p), writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  g.branch,
	})
	if err != nil {
		return "", err
	}
	body, err := g.do(req, "put", p)
	if err != nil {
		return "", err
	}
	var wr writeResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", fmt.Errorf("put %s: decode response: %w", p, err)
	}
	return wr.Content.SHA, nil
}

func (g *githubStore) Delete(ctx context.Context, p, sha, message string) error {
	p = CleanPath(p)
	req, err := g.newRequest(ctx, http.MethodDelete, g.contentsURL(p), writeRequest{
		Message: message,
		SHA:     sha,
		Branch:  g.branch,
	})
	if err != nil {
		return err
	}
	_, err = g.do(req, "delete", p)
	return err
}

func (g *githubStore) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = CleanPath(dir)
	body, err := g.fetch(ctx, dir)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("list %s: path is not a directory", dir)
	}
	var items []contentItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("list %s: decode response: %w", dir, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		e := Entry{Path: it.Path, Name: it.Name, SHA: it.SHA, Size: it.Size}
		switch it.Type {
		case "file":
			e.Type = EntryFile
		case "dir":
			e.Type = EntryDir
		default:
			// symlinks and submodules are never media
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (g *githubStore) URL(p string) string {
	return g.rawBase + EscapePath(p)
}

// PathFromURL accepts any raw URL of this repository and branch.
func (g *githubStore) PathFromURL(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, g.rawBase) {
		p := unescapePath(strings.TrimPrefix(rawURL, g.rawBase))
		return p, p != ""
	}
	marker := "/" + g.branch + "/"
	i := strings.Index(rawURL, marker)
	if i < 0 || !strings.Contains(rawURL[:i], "/"+g.owner+"/"+g.repo) {
		return "", false
	}
	p := unescapePath(rawURL[i+len(marker):])
	return p, p != ""
}
