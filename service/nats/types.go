package nats

import (
	"time"

	"github.com/brojonat/mintscan/service/solana"
)

// TransferEvent represents a matched token transfer published to NATS.
// This is published to the subject "transfers.{mint}" in JetStream.
type TransferEvent struct {
	// Transaction identifiers
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Version   string `json:"version"`

	// Location of the instruction inside the transaction
	InnerGroupIndex uint64 `json:"inner_group_index"`
	Position        int    `json:"position"`

	// Transfer details
	Mint            string         `json:"mint"`
	InstructionType string         `json:"instruction_type"`
	Source          string         `json:"source,omitempty"`
	Destination     string         `json:"destination,omitempty"`
	Authority       string         `json:"authority,omitempty"`
	Amount          string         `json:"amount,omitempty"`
	Decimals        *int           `json:"decimals,omitempty"`
	Info            map[string]any `json:"info"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromMatch converts a processor match into a TransferEvent for publishing.
func FromMatch(mint string, m *solana.TransferMatch) *TransferEvent {
	event := &TransferEvent{
		Signature:       m.Signature,
		Slot:            m.Slot,
		Version:         m.Version,
		InnerGroupIndex: m.GroupIndex,
		Position:        m.Position,
		Mint:            mint,
		InstructionType: m.Type,
		Info:            m.Info,
		PublishedAt:     time.Now().UTC(),
	}

	event.Source, _ = m.Info["source"].(string)
	event.Destination, _ = m.Info["destination"].(string)
	event.Authority, _ = m.Info["authority"].(string)

	// transferChecked carries a tokenAmount object, plain transfer a bare amount
	if tokenAmount, ok := m.Info["tokenAmount"].(map[string]any); ok {
		event.Amount, _ = tokenAmount["amount"].(string)
		if d, ok := tokenAmount["decimals"].(float64); ok {
			decimals := int(d)
			event.Decimals = &decimals
		}
	} else {
		event.Amount, _ = m.Info["amount"].(string)
	}

	return event
}
