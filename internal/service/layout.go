package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"gitblog/internal/storage"
)

// Repository layout.
const (
	PostsDir   = "posts"
	ImagesDir  = "images"
	ContentDir = "content"
	MetaPath   = PostsDir + "/meta.json"
	keepFile   = ".gitkeep"
)

// MediaDirs are the directories that hold uploaded files and are swept by the cleaner.
var MediaDirs = []string{ImagesDir, ContentDir}

func postPath(id string) string {
	return PostsDir + "/" + id + ".json"
}

// inMediaDir reports whether p lives below one of MediaDirs.
func inMediaDir(p string) bool {
	for _, dir := range MediaDirs {
		if strings.HasPrefix(p, dir+"/") {
			return true
		}
	}
	return false
}

// mediaPathFromURL resolves a durable URL to a store path inside the media directories.
func mediaPathFromURL(s storage.Store, rawURL string) (string, bool) {
	p, ok := s.PathFromURL(rawURL)
	if !ok || !inMediaDir(p) {
		return "", false
	}
	return p, true
}

// safeName reduces a client supplied file name to a single path element.
func safeName(name string) string {
	base := path.Base("/" + storage.CleanPath(name))
	if base == "/" || base == "." || base == ".." {
		return ""
	}
	return base
}

var (
	errNotInline    = errors.New("url is not an inline data URL")
	errEmptyPayload = errors.New("inline data URL has no base64 payload")
)

// decodePayload returns the bytes of an inline data URL ("data:<mime>;base64,<data>").
// ok is false only when url is empty. Any other value that is not a base64 data URL is
// an error, since the file behind it cannot be uploaded.
func decodePayload(url string) (data []byte, ok bool, err error) {
	if url == "" {
		return nil, false, nil
	}
	rest, isData := strings.CutPrefix(url, "data:")
	if !isData {
		return nil, false, errNotInline
	}
	header, encoded, found := strings.Cut(rest, ",")
	if !found || encoded == "" || !strings.HasSuffix(header, ";base64") {
		return nil, false, errEmptyPayload
	}
	data, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, true, nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
