// Package notify delivers run notifications over email and SMS and records
// every delivery outcome with the coordination API. Delivery failures here
// degrade to fallback channels; they are never fatal to the run report.
package notify

import (
	"github.com/wphospital/sprucepy/internal/core"
)

// Address is one email destination tied back to a person record.
type Address struct {
	Person int
	Email  string
}

// Phone is one SMS destination tied back to a person record.
type Phone struct {
	Person int
	Number string
}

// EmailLines buckets email recipients by send line.
type EmailLines struct {
	To  []Address
	Cc  []Address
	Bcc []Address
}

// All returns every address across the three lines, de-duplicated.
func (l EmailLines) All() []Address {
	seen := make(map[string]bool)
	var out []Address
	for _, bucket := range [][]Address{l.To, l.Cc, l.Bcc} {
		for _, a := range bucket {
			if seen[a.Email] {
				continue
			}
			seen[a.Email] = true
			out = append(out, a)
		}
	}
	return out
}

// Empty reports whether no addresses are present on any line.
func (l EmailLines) Empty() bool {
	return len(l.To) == 0 && len(l.Cc) == 0 && len(l.Bcc) == 0
}

// EmailsFrom buckets a recipient list into send lines. Recipients of
// testing-only tasks are skipped unless they opted into testing sends,
// keeping test-environment noise away from production inboxes.
func EmailsFrom(recipients []core.Recipient) EmailLines {
	var lines EmailLines
	for _, r := range recipients {
		if r.Mode != string(core.RecipientModeEmail) || r.Email == "" {
			continue
		}
		if r.TaskTesting && !r.SendTesting {
			continue
		}
		addr := Address{Person: r.Person, Email: r.Email}
		switch r.SendLine {
		case "cc":
			lines.Cc = append(lines.Cc, addr)
		case "bcc":
			lines.Bcc = append(lines.Bcc, addr)
		default:
			lines.To = append(lines.To, addr)
		}
	}
	return lines
}

// PhonesFrom extracts SMS destinations from a recipient list. Unlike email,
// SMS filters only on mode and presence; the testing opt-in gate applies to
// inbox traffic, not pages.
func PhonesFrom(recipients []core.Recipient) []Phone {
	var phones []Phone
	for _, r := range recipients {
		if r.Mode != string(core.RecipientModeSMS) || r.Phone == "" {
			continue
		}
		phones = append(phones, Phone{Person: r.Person, Number: r.Phone})
	}
	return phones
}
