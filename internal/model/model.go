package model

// Meta is the index manifest stored at posts/meta.json.
type Meta struct {
	Posts []string `json:"posts"`
}

// Contains reports whether filename is listed.
func (m *Meta) Contains(filename string) bool {
	for _, p := range m.Posts {
		if p == filename {
			return true
		}
	}
	return false
}

// Add appends filename unless already present and reports whether the manifest changed.
func (m *Meta) Add(filename string) bool {
	if m.Contains(filename) {
		return false
	}
	m.Posts = append(m.Posts, filename)
	return true
}

// Remove drops every occurrence of filename and reports whether the manifest changed.
func (m *Meta) Remove(filename string) bool {
	kept := m.Posts[:0]
	for _, p := range m.Posts {
		if p != filename {
			kept = append(kept, p)
		}
	}
	changed := len(kept) != len(m.Posts)
	m.Posts = kept
	return changed
}
