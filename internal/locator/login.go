package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field addresses one element of a live page: the Index-th match (document
// order) of Selector.
type Field struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
}

// LoginFields is the outcome of a login form scan. Any field may be nil.
type LoginFields struct {
	Username *Field
	Password *Field
	Submit   *Field
}

// Found reports whether both credential fields were located.
func (f LoginFields) Found() bool { return f.Username != nil && f.Password != nil }

const (
	inputSelector  = "input"
	submitSelector = `button, input[type="submit"]`
)

type input struct {
	index int
	typ   string
	name  string
	id    string
}

// userPredicate is tried in order; the first predicate matching any input
// picks the username field.
type userPredicate func(in input) bool

var fillable = map[string]bool{"text": true, "email": true, "tel": true, "": true}

// UsernamePredicates ranks username candidates: an explicit name/id hint
// beats a bare text or email input.
var UsernamePredicates = []userPredicate{
	func(in input) bool { return fillable[in.typ] && hints(in, "username", "user_name", "login") },
	func(in input) bool { return fillable[in.typ] && hints(in, "email", "mail") },
	func(in input) bool { return in.typ == "email" },
	func(in input) bool { return in.typ == "text" },
}

func hints(in input, words ...string) bool {
	n := strings.ToLower(in.name)
	id := strings.ToLower(in.id)
	for _, w := range words {
		if strings.Contains(n, w) || strings.Contains(id, w) {
			return true
		}
	}
	return false
}

// LocateLoginFields scans the input elements of snapshot for a username and a
// password field. Absence is a normal result.
func LocateLoginFields(snapshot string) LoginFields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot))
	if err != nil {
		return LoginFields{}
	}
	var inputs []input
	doc.Find(inputSelector).Each(func(i int, s *goquery.Selection) {
		typ, ok := s.Attr("type")
		if !ok {
			typ = "text"
		}
		name, _ := s.Attr("name")
		id, _ := s.Attr("id")
		inputs = append(inputs, input{index: i, typ: strings.ToLower(strings.TrimSpace(typ)), name: name, id: id})
	})

	var out LoginFields
	for _, in := range inputs {
		if in.typ == "password" {
			out.Password = in.field()
			break
		}
	}
	for _, pred := range UsernamePredicates {
		for _, in := range inputs {
			if pred(in) {
				out.Username = in.field()
				break
			}
		}
		if out.Username != nil {
			break
		}
	}

	doc.Find(submitSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		typ := strings.ToLower(s.AttrOr("type", "submit"))
		if typ == "submit" {
			out.Submit = &Field{Selector: submitSelector, Index: i, Type: typ}
			return false
		}
		return true
	})
	return out
}

func (in input) field() *Field {
	return &Field{Selector: inputSelector, Index: in.index, Type: in.typ, Name: in.name, ID: in.id}
}
