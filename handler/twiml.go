package handler

import (
	"encoding/xml"
	"strings"
)

// twimlMessage renders a single-message TwiML response envelope.
func twimlMessage(text string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response><Message>")
	// EscapeText only fails on writer errors; strings.Builder never errors.
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString("</Message></Response>")
	return b.String()
}
