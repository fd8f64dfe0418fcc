// Package voicetest decodes rendered voice documents for assertions in tests.
package voicetest

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// Verb is one top-level instruction of a rendered document
type Verb struct {
	Name  string
	Text  string
	Attrs map[string]string
}

// Parse returns the top-level verbs of a rendered <Response> document in order
func Parse(doc string) ([]Verb, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))

	var (
		verbs   []Verb
		depth   int
		current *Verb
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if t.Name.Local != "Response" {
					return nil, errors.New("document root is not <Response>")
				}
				sawRoot = true
			case 2:
				v := Verb{Name: t.Name.Local, Attrs: make(map[string]string)}
				for _, a := range t.Attr {
					v.Attrs[a.Name.Local] = a.Value
				}
				verbs = append(verbs, v)
				current = &verbs[len(verbs)-1]
			}
		case xml.CharData:
			if depth == 2 && current != nil {
				current.Text += string(t)
			}
		case xml.EndElement:
			if depth == 2 {
				current = nil
			}
			depth--
		}
	}
	if !sawRoot {
		return nil, errors.New("document has no <Response>")
	}
	return verbs, nil
}

// MustParse is Parse for tests that cannot continue on a malformed document
func MustParse(doc string) []Verb {
	verbs, err := Parse(doc)
	if err != nil {
		panic(err)
	}
	return verbs
}

// Names returns the verb names in order
func Names(verbs []Verb) []string {
	out := make([]string, len(verbs))
	for i, v := range verbs {
		out[i] = v.Name
	}
	return out
}
