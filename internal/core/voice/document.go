package voice

import (
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// Verb names as they appear in a rendered document
const (
	VerbSay      = "Say"
	VerbGather   = "Gather"
	VerbRedirect = "Redirect"
	VerbHangup   = "Hangup"
)

// FallbackXML is served when a document cannot be produced at all
const FallbackXML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Sorry, something went wrong on our side. Please call again later.</Say><Hangup/></Response>`

// ContentType is the media type the provider expects for voice documents
const ContentType = "text/xml; charset=utf-8"

// GatherOptions configures a speech capture step
type GatherOptions struct {
	Input          string
	TimeoutSeconds int
	Action         string
	Method         string
}

// Document is an ordered list of voice instructions for the provider
type Document struct {
	verbs []twiml.Element
	names []string
}

func NewDocument() *Document {
	return &Document{}
}

// Say speaks text to the caller
func (d *Document) Say(text string) *Document {
	return d.add(VerbSay, &twiml.VoiceSay{Message: text})
}

// Gather captures caller input and posts the result to opts.Action
func (d *Document) Gather(opts GatherOptions) *Document {
	return d.add(VerbGather, &twiml.VoiceGather{
		Input:   opts.Input,
		Timeout: strconv.Itoa(opts.TimeoutSeconds),
		Action:  opts.Action,
		Method:  opts.Method,
	})
}

// Redirect hands control to another webhook
func (d *Document) Redirect(url string) *Document {
	return d.add(VerbRedirect, &twiml.VoiceRedirect{Url: url, Method: "POST"})
}

// Hangup ends the call
func (d *Document) Hangup() *Document {
	return d.add(VerbHangup, &twiml.VoiceHangup{})
}

// VerbNames lists the instructions in order
func (d *Document) VerbNames() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Render serializes the document to TwiML
func (d *Document) Render() (string, error) {
	doc, err := twiml.Voice(d.verbs)
	if err != nil {
		return "", fmt.Errorf("failed to render voice document: %w", err)
	}
	return doc, nil
}

func (d *Document) add(name string, verb twiml.Element) *Document {
	d.verbs = append(d.verbs, verb)
	d.names = append(d.names, name)
	return d
}
