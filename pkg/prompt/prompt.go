// Package prompt composes completion requests from session history, the
// device-context snapshot, and the personality directive.
//
// Compose is a pure function: identical inputs always produce identical
// prompt text (snapshot keys are sorted), which keeps it trivially
// unit-testable.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sonahome/sona/pkg/session"
)

// Preamble is the fixed system instruction prepended to every prompt.
const Preamble = `You are Sona, a voice assistant for a smart home. ` +
	`Answer in one or two short spoken sentences. ` +
	`Use the device states below when the question concerns the home.`

// Compose builds the prompt text from the trimmed history, the device
// snapshot, and the personality directive.
func Compose(history []session.Exchange, snapshot map[string]string, directive string) string {
	var b strings.Builder

	b.WriteString(Preamble)
	b.WriteString("\n\n")

	if directive != "" {
		b.WriteString(directive)
		b.WriteString("\n\n")
	}

	if len(snapshot) > 0 {
		b.WriteString("Device states:\n")
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, snapshot[k])
		}
		b.WriteString("\n")
	}

	for _, ex := range history {
		fmt.Fprintf(&b, "User: %s\n", ex.Utterance.Text)
		if ex.Response != "" {
			fmt.Fprintf(&b, "Assistant: %s\n", ex.Response)
		}
	}

	b.WriteString("Assistant:")
	return b.String()
}
