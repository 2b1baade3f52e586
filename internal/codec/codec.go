// Package codec stores a message's citations inside its content string as a
// trailing <sources> block, and recovers them on load.
package codec

import (
	"encoding/json"
	"regexp"

	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	openTag  = "<sources>"
	closeTag = "</sources>"
)

// sourcesBlock only matches a block that ends the string. The payload is a
// single line because encoded JSON never contains a raw newline.
var sourcesBlock = regexp.MustCompile(`\n?<sources>([^\n]*)</sources>\s*\z`)

// Encode appends the JSON-serialized sources to the content. Messages without
// sources encode to their content unchanged.
func Encode(m domain.Message) string {
	if len(m.Sources) == 0 {
		return m.Content
	}

	payload, err := json.Marshal(m.Sources)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal sources, storing content only")
		return m.Content
	}

	return m.Content + "\n" + openTag + string(payload) + closeTag
}

// Decode is the inverse of Encode. A malformed payload leaves the string
// untouched and yields no sources.
func Decode(raw string) domain.Message {
	loc := sourcesBlock.FindStringSubmatchIndex(raw)
	if loc == nil {
		return domain.Message{Content: raw}
	}

	var sources []domain.Source
	if err := json.Unmarshal([]byte(raw[loc[2]:loc[3]]), &sources); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed sources block")
		return domain.Message{Content: raw}
	}
	if len(sources) == 0 {
		sources = nil
	}

	return domain.Message{
		Content: raw[:loc[0]],
		Sources: sources,
	}
}

// FromStored decodes a persisted history row into a message
func FromStored(sm domain.StoredMessage) domain.Message {
	m := Decode(sm.Raw)
	m.Role = sm.Role
	m.Persona = sm.Persona
	m.Timestamp = sm.Timestamp
	if m.Role != domain.RoleAssistant {
		// citations only belong to assistant messages
		m.Content = sm.Raw
		m.Sources = nil
	}
	return m
}

// ToStored encodes a message into a persisted history row
func ToStored(m domain.Message) domain.StoredMessage {
	raw := m.Content
	if m.Role == domain.RoleAssistant {
		raw = Encode(m)
	}
	return domain.StoredMessage{
		Role:      m.Role,
		Raw:       raw,
		Persona:   m.Persona,
		Timestamp: m.Timestamp,
	}
}
