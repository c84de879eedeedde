package solana

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ParsedTransaction is a jsonParsed getTransaction result.
// Only the fields the processor reads are modelled; everything else in the
// RPC payload is ignored by the decoder.
type ParsedTransaction struct {
	Slot        uint64             `json:"slot"`
	BlockTime   *int64             `json:"blockTime"`
	Version     TransactionVersion `json:"version"`
	Meta        *TransactionMeta   `json:"meta"`
	Transaction *TransactionBody   `json:"transaction"`
}

// Signature returns the first transaction signature, or "" if the payload
// did not carry one.
func (t *ParsedTransaction) Signature() string {
	if t == nil || t.Transaction == nil || len(t.Transaction.Signatures) == 0 {
		return ""
	}
	return t.Transaction.Signatures[0]
}

// TransactionBody is the "transaction" object of a jsonParsed result.
type TransactionBody struct {
	Signatures []string `json:"signatures"`
}

// TransactionMeta holds the status metadata of a transaction.
// InnerInstructions is nil when the node omitted the field.
type TransactionMeta struct {
	Err               any                     `json:"err"`
	Fee               uint64                  `json:"fee"`
	InnerInstructions []InnerInstructionGroup `json:"innerInstructions"`
	LogMessages       []string                `json:"logMessages"`
}

// InnerInstructionGroup is the set of instructions executed on behalf of the
// top-level instruction at Index.
type InnerInstructionGroup struct {
	Index        uint64         `json:"index"`
	Instructions []*Instruction `json:"instructions"`
}

// Instruction is a single (possibly unparsed) instruction.
type Instruction struct {
	Program     string             `json:"program,omitempty"`
	ProgramID   string             `json:"programId,omitempty"`
	Parsed      *ParsedInstruction `json:"parsed,omitempty"`
	Accounts    []string           `json:"accounts,omitempty"`
	Data        string             `json:"data,omitempty"`
	StackHeight *int64             `json:"stackHeight,omitempty"`
}

// ParsedInstruction is the decoded form the node attaches to instructions of
// programs it knows how to parse.
type ParsedInstruction struct {
	Type string         `json:"type"`
	Info map[string]any `json:"info"`
}

// UnmarshalJSON accepts both the object form and the bare string some
// programs (memo, for one) return as "parsed". A string leaves Type and
// Info empty.
func (p *ParsedInstruction) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		return json.Unmarshal(data, &s)
	}

	type plain ParsedInstruction
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = ParsedInstruction(out)
	return nil
}

// Mint returns info.mint when it is a string.
func (p *ParsedInstruction) Mint() (string, bool) {
	if p == nil || p.Info == nil {
		return "", false
	}
	mint, ok := p.Info["mint"].(string)
	return mint, ok
}

// TransactionVersion keeps the raw "version" value of a transaction.
// The node sends a number for versioned transactions, the string "legacy"
// otherwise, and nothing at all when maxSupportedTransactionVersion was not
// requested.
type TransactionVersion struct {
	raw json.RawMessage
}

const legacyVersion = "legacy"

// NewTransactionVersion returns a numeric version.
func NewTransactionVersion(v int64) TransactionVersion {
	return TransactionVersion{raw: json.RawMessage(strconv.FormatInt(v, 10))}
}

// LegacyTransactionVersion returns the "legacy" version.
func LegacyTransactionVersion() TransactionVersion {
	return TransactionVersion{raw: json.RawMessage(strconv.Quote(legacyVersion))}
}

func (v *TransactionVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		v.raw = nil
		return nil
	}
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (v TransactionVersion) MarshalJSON() ([]byte, error) {
	if !v.IsSet() {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// IsSet reports whether the payload carried a version.
func (v TransactionVersion) IsSet() bool {
	return len(v.raw) > 0
}

// IsLegacy reports whether the version is the string "legacy".
func (v TransactionVersion) IsLegacy() bool {
	var s string
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return false
	}
	return s == legacyVersion
}

// Number returns the version when it is an integer.
func (v TransactionVersion) Number() (int64, bool) {
	if !v.IsSet() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(v.raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String renders the version the way the processor prints it: numbers and
// strings unquoted, anything else as raw JSON, "undefined" when absent.
func (v TransactionVersion) String() string {
	if !v.IsSet() {
		return "undefined"
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}
	return string(v.raw)
}

// TransferMatch is an inner instruction that passed the transfer filter.
type TransferMatch struct {
	Signature  string         `json:"signature,omitempty"`
	Slot       uint64         `json:"slot"`
	Version    string         `json:"version"`
	GroupIndex uint64         `json:"group_index"`
	Position   int            `json:"position"`
	Type       string         `json:"type"`
	Info       map[string]any `json:"info"`
}
