// Package channel implements the dotted bus-address grammar shared by every
// layer of the fabric: target.method[.code_name].
package channel

import (
	"errors"
	"strings"
)

// Method names understood by the fabric. Anything else is forwarded verbatim
// by the Agent but never interpreted by a Zone or Client.
const (
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodDelete = "delete"
	MethodCall   = "call"
	MethodJoin   = "join"
	MethodLeave  = "leave"
)

// ErrBadChannel is returned when a channel string cannot be parsed.
var ErrBadChannel = errors.New("channel: malformed address")

// Channel is a classy representation of a bus address. It makes it possible
// to route messages cleanly between Agents, Zones and Clients.
type Channel struct {
	// Target is either a zone id or a client id.
	Target string
	// Method describes what is taking place on Target.
	Method string
	// CodeName picks a class from the DO registry (on "create") or a
	// method name (on "call"). Empty for every other method.
	CodeName string
}

// New builds a Channel, validating the code_name/method pairing invariant.
func New(target, method, codeName string) (Channel, error) {
	c := Channel{Target: target, Method: method, CodeName: codeName}
	if codeName != "" && method != MethodCreate && method != MethodCall {
		return Channel{}, ErrBadChannel
	}
	return c, nil
}

// Parse splits a channel expression of the form "target.method[.code_name]".
func Parse(expr string) (Channel, error) {
	parts := strings.Split(expr, ".")
	if len(parts) < 2 {
		return Channel{}, ErrBadChannel
	}

	target, method := parts[0], parts[1]
	if target == "" || method == "" {
		return Channel{}, ErrBadChannel
	}

	codeName := ""
	if len(parts) > 2 {
		codeName = strings.Join(parts[2:], ".")
	}

	return New(target, method, codeName)
}

// String formats the Channel back into its wire form. For any well-formed
// Channel, Parse(c.String()) == c.
func (c Channel) String() string {
	pieces := []string{c.Target, c.Method}
	if c.CodeName != "" {
		pieces = append(pieces, c.CodeName)
	}
	return strings.Join(pieces, ".")
}

// Pattern returns the bus subscription pattern that matches every message
// addressed to target, regardless of how many further segments the channel
// carries: "target.>". NATS's "*" wildcard matches exactly one more token,
// which would miss every 3-segment channel ("target.create.CodeName",
// "target.call.method"); ">" matches one-or-more trailing tokens, so it
// covers both the 2-segment (join/update/delete/leave) and 3-segment
// (create/call) forms the grammar produces.
func Pattern(target string) string {
	return target + ".>"
}

// IsWhisper reports whether this channel privately addresses a single
// client rather than a zone's group of subscribers. The grammar itself
// can't distinguish a zone id from a client id; callers that know the
// target's kind should prefer that instead.
func (c Channel) IsWhisper(clientID string) bool {
	return c.Target == clientID
}
