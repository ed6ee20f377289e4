package calendar

import (
	"bytes"
	"html/template"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const contentBoxClass = "content-box"

var boxTemplate = template.Must(template.New("box").Parse(
	`<div class="content-box" data-content-id="{{.ID}}">` +
		`<div class="content-title">{{.Title}}</div>` +
		`<div class="content-status" style="color:{{.StatusColor}}">{{.StatusText}}</div>` +
		`{{if .Images}}<div class="content-images">{{range .Images}}<img src="{{.}}" class="content-image" loading="lazy">{{end}}</div>{{end}}` +
		`<div class="content-caption">{{.Caption}}</div>` +
		`<button class="view-button">View</button>` +
		`<button class="delete-button" aria-label="Remove post">✕</button>` +
		`</div>`))

type boxView struct {
	ID          string
	Title       string
	StatusText  string
	StatusColor string
	Caption     string
	Images      []template.URL
}

// RenderMarkup builds the HTML fragment for r.
func RenderMarkup(r ContentRecord) string {
	view := boxView{
		ID:          r.ID,
		Title:       r.Title,
		StatusText:  r.StatusText,
		StatusColor: r.StatusColor,
		Caption:     r.Caption,
	}
	if view.Title == "" {
		if r.FromBackend {
			view.Title = "Backend event"
		} else {
			view.Title = "Untitled"
		}
	}
	for _, img := range r.Images {
		// Only remote and inline image URIs are emitted; anything else is
		// dropped rather than escaped into a broken src.
		if isRemoteImage(img) || isInlineImage(img) {
			view.Images = append(view.Images, template.URL(img))
		}
	}

	var buf bytes.Buffer
	if err := boxTemplate.Execute(&buf, view); err != nil {
		// The template is static and the view holds only strings.
		panic(err)
	}
	return buf.String()
}

func isRemoteImage(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isInlineImage(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}

// NormalizeMarkup repairs a stored fragment so that its root is a single
// content-box element with data-content-id == id, containing no nested
// content-box and no inline onclick handlers.
//
// ok is false when the fragment holds no element at all. changed reports
// whether a repair was made; when it is false out equals fragment.
func NormalizeMarkup(fragment, id string) (out string, changed, ok bool) {
	parent := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(strings.TrimSpace(fragment)), parent)
	if err != nil {
		return "", false, false
	}

	var box *html.Node
	for _, n := range nodes {
		if b := findBox(n); b != nil {
			box = b
			break
		}
	}
	if box == nil {
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				box = n
				break
			}
		}
	}
	if box == nil {
		return "", false, false
	}

	topLevel := 0
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			topLevel++
		}
	}
	if topLevel > 1 || box.Parent != nil {
		// Extra siblings or wrapper elements around the box.
		changed = true
	}

	for inner := findBoxBelow(box); inner != nil; inner = findBoxBelow(box) {
		box = inner
		changed = true
	}

	if !hasClass(box, contentBoxClass) {
		addClass(box, contentBoxClass)
		changed = true
	}
	if attr(box, "data-content-id") != id {
		setAttr(box, "data-content-id", id)
		changed = true
	}
	if stripAttr(box, "onclick") {
		changed = true
	}

	if !changed {
		return fragment, false, true
	}

	if box.Parent != nil {
		box.Parent.RemoveChild(box)
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, box); err != nil {
		return "", false, false
	}
	return buf.String(), true, true
}

// findBox returns n or its first descendant with the content-box class.
func findBox(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, contentBoxClass) {
		return n
	}
	return findBoxBelow(n)
}

func findBoxBelow(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBox(c); b != nil {
			return b
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func addClass(n *html.Node, class string) {
	cur := strings.TrimSpace(attr(n, "class"))
	if cur == "" {
		setAttr(n, "class", class)
		return
	}
	setAttr(n, "class", cur+" "+class)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// stripAttr removes key from n and all its descendants.
func stripAttr(n *html.Node, key string) bool {
	removed := false
	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == key {
				removed = true
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if stripAttr(c, key) {
			removed = true
		}
	}
	return removed
}
