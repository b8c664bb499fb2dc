package bouncer

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// firstRunPrefix is prepended to an identity key to form its first-run marker key.
const firstRunPrefix = "fr:"

// Identity names one debounce stream: a topic (job class) and its ordered
// parameters. Two triggers with equal topic and equal parameters share one
// debounce record.
type Identity struct {
	Topic  string
	Params []string
}

// NewIdentity builds an Identity from arbitrary parameter values.
// Values are rendered with fmt.Sprint.
func NewIdentity(topic string, params ...any) Identity {
	rendered := make([]string, len(params))
	for i, p := range params {
		rendered[i] = fmt.Sprint(p)
	}
	return Identity{Topic: topic, Params: rendered}
}

// Key returns the store key: "<topic>:<p1>,<p2>,...".
// Topic and parameters are NFC-normalized so visually identical Unicode
// input maps to one key.
func (id Identity) Key() string {
	var b strings.Builder
	b.WriteString(norm.NFC.String(id.Topic))
	b.WriteByte(':')
	for i, p := range id.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(norm.NFC.String(p))
	}
	return b.String()
}

// FirstRunKey returns the key of the identity's first-run marker.
func (id Identity) FirstRunKey() string {
	return firstRunPrefix + id.Key()
}

// String returns the key.
func (id Identity) String() string {
	return id.Key()
}

// Validate reports whether the identity can be used.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Topic) == "" {
		return ErrEmptyTopic
	}
	return nil
}
