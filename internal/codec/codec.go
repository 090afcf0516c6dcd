// Package codec converts between the editor's structured document and the markup
// stored in a post's content.
//
// Markup is plain text interspersed with three self-describing media tags:
//
//	<img src="ID"/>   <video src="ID"/>   <youtube src="URL">
//
// where ID is a placeholder token while the media is a draft and the durable URL
// once it is uploaded.
package codec

import (
	"html"
	"io"
	"regexp"
	"sort"
	"strings"

	nethtml "golang.org/x/net/html"

	"gitblog/internal/model"
)

// NodeType names a document node.
type NodeType string

const (
	NodeText      NodeType = "text"
	NodeParagraph NodeType = "paragraph"
	NodeHardBreak NodeType = "hardBreak"
	NodeImage     NodeType = "image"
	NodeVideo     NodeType = "video"
	NodeYouTube   NodeType = "youtube"
)

// Node is a block or inline node. Media nodes carry the media identifier in ID and the
// address the editor should display in Src.
type Node struct {
	Type    NodeType `json:"type"`
	Text    string   `json:"text,omitempty"`
	ID      string   `json:"id,omitempty"`
	Src     string   `json:"src,omitempty"`
	Content []Node   `json:"content,omitempty"`
}

// Document is the editor-facing representation of a post body.
type Document struct {
	Content []Node `json:"content"`
}

var (
	imgTag     = regexp.MustCompile(`(?i)<img\s+src=["']([^"']+)["'][^>]*?/?>`)
	videoTag   = regexp.MustCompile(`(?i)<video\s+src=["']([^"']+)["'][^>]*?/?>(?:\s*</video>)?`)
	youtubeTag = regexp.MustCompile(`(?i)<youtube\s+src=["']([^"']+)["'][^>]*>(?:\s*</youtube>)?`)
	mediaSrc   = regexp.MustCompile(`(?i)(<(?:img|video)\s+src=)(["'])([^"']+)(["'])`)
	anyURL     = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s<>"']+`)
)

// Encode renders a document to markup. Media nodes are written by identifier; a node
// without one falls back to its Src.
func Encode(doc Document) string {
	var b strings.Builder
	encodeNodes(&b, doc.Content)
	return b.String()
}

func encodeNodes(b *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		switch n.Type {
		case NodeText:
			b.WriteString(html.EscapeString(n.Text))
		case NodeParagraph:
			b.WriteString("<p>")
			encodeNodes(b, n.Content)
			b.WriteString("</p>")
		case NodeHardBreak:
			b.WriteString("<br>")
		case NodeImage:
			b.WriteString(`<img src="` + mediaToken(n) + `"/>`)
		case NodeVideo:
			b.WriteString(`<video src="` + mediaToken(n) + `"/>`)
		case NodeYouTube:
			b.WriteString(`<youtube src="` + html.EscapeString(n.Src) + `">`)
		default:
			encodeNodes(b, n.Content)
		}
	}
}

func mediaToken(n Node) string {
	if n.ID != "" {
		return n.ID
	}
	return n.Src
}

type match struct {
	start, end int
	kind       NodeType
	src        string
}

// scan finds media tags left to right. Tag classes are matched in fixed precedence
// (img, video, youtube) and a later class never claims text an earlier one matched.
func scan(markup string) []match {
	var out []match
	taken := func(s, e int) bool {
		for _, m := range out {
			if s < m.end && m.start < e {
				return true
			}
		}
		return false
	}
	for _, class := range []struct {
		re   *regexp.Regexp
		kind NodeType
	}{{imgTag, NodeImage}, {videoTag, NodeVideo}, {youtubeTag, NodeYouTube}} {
		for _, idx := range class.re.FindAllStringSubmatchIndex(markup, -1) {
			if taken(idx[0], idx[1]) {
				continue
			}
			out = append(out, match{start: idx[0], end: idx[1], kind: class.kind, src: markup[idx[2]:idx[3]]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// mediaTable resolves tag sources against a post's media list. Durable URLs take
// precedence over placeholder identifiers.
type mediaTable struct {
	byURL map[string]model.MediaRecord
	byID  map[string]model.MediaRecord
}

func newMediaTable(media []model.MediaRecord) mediaTable {
	t := mediaTable{byURL: map[string]model.MediaRecord{}, byID: map[string]model.MediaRecord{}}
	for _, m := range media {
		if m.URL != "" {
			t.byURL[m.URL] = m
		}
		if m.ID != "" {
			t.byID[m.ID] = m
		}
	}
	return t
}

func (t mediaTable) lookup(src string) (model.MediaRecord, bool) {
	if m, ok := t.byURL[src]; ok {
		return m, true
	}
	m, ok := t.byID[src]
	return m, ok
}

// Decode parses markup into a flat document of text and media nodes, resolving media
// tags against media. Paragraph boundaries and line breaks become "\n" inside text.
//
// A tag whose source is not in media is kept as literal text so partially synced posts
// still render.
func Decode(markup string, media []model.MediaRecord) Document {
	table := newMediaTable(media)
	var (
		nodes   []Node
		emitted bool
		last    int
	)
	appendText := func(s string) {
		if s == "" {
			return
		}
		emitted = true
		if n := len(nodes); n > 0 && nodes[n-1].Type == NodeText {
			nodes[n-1].Text += s
			return
		}
		nodes = append(nodes, Node{Type: NodeText, Text: s})
	}

	for _, m := range scan(markup) {
		appendText(stripTags(markup[last:m.start], &emitted))
		last = m.end
		switch m.kind {
		case NodeYouTube:
			nodes = append(nodes, Node{Type: NodeYouTube, Src: html.UnescapeString(m.src)})
			emitted = true
		default:
			rec, ok := table.lookup(m.src)
			if !ok {
				appendText(markup[m.start:m.end])
				continue
			}
			nodes = append(nodes, Node{Type: m.kind, ID: rec.ID, Src: rec.URL})
			emitted = true
		}
	}
	appendText(stripTags(markup[last:], &emitted))
	return Document{Content: nodes}
}

// stripTags drops markup tags from s and decodes entities. Block starts and <br>
// become newlines once anything has been emitted.
func stripTags(s string, emitted *bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			if z.Err() != io.EOF {
				b.Write(z.Raw())
			}
			return b.String()
		case nethtml.TextToken:
			text := string(z.Text())
			if text != "" {
				*emitted = true
			}
			b.WriteString(text)
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteString("\n")
				*emitted = true
			case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre":
				if *emitted {
					b.WriteString("\n")
				}
			}
		}
	}
}

// Flatten returns the document Decode produces for Encode(doc): paragraphs are inlined
// with "\n" separators and adjacent text is merged.
func Flatten(doc Document) Document {
	var (
		nodes   []Node
		emitted bool
	)
	var walk func([]Node)
	addText := func(s string) {
		if s == "" {
			return
		}
		emitted = true
		if n := len(nodes); n > 0 && nodes[n-1].Type == NodeText {
			nodes[n-1].Text += s
			return
		}
		nodes = append(nodes, Node{Type: NodeText, Text: s})
	}
	walk = func(ns []Node) {
		for _, n := range ns {
			switch n.Type {
			case NodeText:
				addText(n.Text)
			case NodeHardBreak:
				addText("\n")
			case NodeParagraph:
				if emitted {
					addText("\n")
				}
				walk(n.Content)
			case NodeImage, NodeVideo, NodeYouTube:
				nodes = append(nodes, Node{Type: n.Type, ID: n.ID, Src: n.Src})
				emitted = true
			default:
				walk(n.Content)
			}
		}
	}
	walk(doc.Content)
	return Document{Content: nodes}
}

// PlainText returns the text of markup with every tag removed, for previews.
func PlainText(markup string) string {
	var b strings.Builder
	for _, n := range Decode(markup, nil).Content {
		if n.Type == NodeText {
			b.WriteString(n.Text)
		}
	}
	return strings.TrimSpace(imgTag.ReplaceAllString(videoTag.ReplaceAllString(b.String(), ""), ""))
}

// RewriteSources replaces the src attribute of img and video tags using repl. Only
// attribute values are touched, never surrounding text, and each value is rewritten at
// most once, so a durable URL produced by the map is never rewritten again.
func RewriteSources(markup string, repl map[string]string) string {
	if len(repl) == 0 {
		return markup
	}
	return mediaSrc.ReplaceAllStringFunc(markup, func(tag string) string {
		sm := mediaSrc.FindStringSubmatch(tag)
		if to, ok := repl[sm[3]]; ok {
			return sm[1] + sm[2] + to + sm[4]
		}
		return tag
	})
}

// MediaSources lists the src values of img and video tags in order of appearance.
func MediaSources(markup string) []string {
	var out []string
	for _, m := range scan(markup) {
		if m.kind == NodeImage || m.kind == NodeVideo {
			out = append(out, m.src)
		}
	}
	return out
}

// ExtractURLs returns every distinct absolute URL found anywhere in s, in order.
func ExtractURLs(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range anyURL.FindAllString(s, -1) {
		u = strings.TrimRight(u, ".,;:!?)")
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
