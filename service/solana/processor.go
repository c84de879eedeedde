package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/brojonat/mintscan/service/metrics"
	"github.com/itchyny/gojq"
)

// TransferCheckedType is the parsed type of an SPL Token TransferChecked instruction.
const TransferCheckedType = "transferChecked"

// Separator is printed before every transaction that has metadata.
var Separator = strings.Repeat("*=", 45)

// TransferFilter selects inner instructions to report.
type TransferFilter struct {
	// Type is the parsed instruction type; defaults to TransferCheckedType.
	Type string
	// Mint must equal info.mint.
	Mint string
	// JQ filters run against info and must all yield a truthy value.
	JQ []*gojq.Code
}

// CompileJQ parses and compiles jq filter expressions.
func CompileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// Processor prints transaction details and the transfers that match its filter.
type Processor struct {
	out     io.Writer
	filter  TransferFilter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProcessor creates a Processor writing human-readable lines to out.
// If metrics is nil, no metrics will be recorded.
func NewProcessor(out io.Writer, filter TransferFilter, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if filter.Type == "" {
		filter.Type = TransferCheckedType
	}
	return &Processor{
		out:     out,
		filter:  filter,
		metrics: m,
		logger:  logger,
	}
}

// ProcessTransactions walks transactions in order and prints, for each one
// with metadata, a separator and its version. For version 0 transactions the
// info object of every matching inner instruction is printed on its own line
// and returned as a TransferMatch.
//
// nil entries and entries without meta print nothing.
func (p *Processor) ProcessTransactions(ctx context.Context, transactions []*ParsedTransaction) ([]*TransferMatch, error) {
	var matches []*TransferMatch

	for i, txn := range transactions {
		if txn == nil || txn.Meta == nil {
			p.logger.DebugContext(ctx, "skipping transaction without metadata", "index", i)
			p.recordProcessed("skipped")
			continue
		}

		if err := p.println(Separator); err != nil {
			return matches, err
		}

		if n, ok := txn.Version.Number(); ok && n == 0 {
			p.recordProcessed("0")
			if err := p.println("[Transaction Version]", txn.Version.String()); err != nil {
				return matches, err
			}
			found, err := p.processInner(ctx, txn)
			matches = append(matches, found...)
			if err != nil {
				return matches, err
			}
			continue
		}

		if txn.Version.IsLegacy() {
			p.recordProcessed("legacy")
			if err := p.println("[Transaction Version]", txn.Version.String()); err != nil {
				return matches, err
			}
			continue
		}

		p.recordProcessed("unknown")
		if err := p.println("Unknown transaction version:", txn.Version.String()); err != nil {
			return matches, err
		}
	}

	return matches, nil
}

func (p *Processor) processInner(ctx context.Context, txn *ParsedTransaction) ([]*TransferMatch, error) {
	if txn.Meta.InnerInstructions == nil {
		return nil, nil
	}

	var matches []*TransferMatch
	for _, group := range txn.Meta.InnerInstructions {
		for pos, ix := range group.Instructions {
			if ix == nil || ix.Parsed == nil {
				continue
			}
			ok, err := p.matches(ix.Parsed)
			if err != nil {
				return matches, fmt.Errorf("failed to evaluate filter on %s: %w", txn.Signature(), err)
			}
			if !ok {
				continue
			}

			line, err := json.Marshal(ix.Parsed.Info)
			if err != nil {
				return matches, fmt.Errorf("failed to marshal transfer info: %w", err)
			}
			if err := p.println(string(line)); err != nil {
				return matches, err
			}

			if p.metrics != nil {
				p.metrics.RecordTransferMatched(p.filter.Mint)
			}
			p.logger.DebugContext(ctx, "matched transfer",
				"signature", txn.Signature(),
				"group", group.Index,
				"position", pos,
			)
			matches = append(matches, &TransferMatch{
				Signature:  txn.Signature(),
				Slot:       txn.Slot,
				Version:    txn.Version.String(),
				GroupIndex: group.Index,
				Position:   pos,
				Type:       ix.Parsed.Type,
				Info:       ix.Parsed.Info,
			})
		}
	}
	return matches, nil
}

func (p *Processor) matches(parsed *ParsedInstruction) (bool, error) {
	if parsed.Type != p.filter.Type || parsed.Info == nil {
		return false, nil
	}
	mint, ok := parsed.Mint()
	if !ok || mint != p.filter.Mint {
		return false, nil
	}
	for _, code := range p.filter.JQ {
		ok, err := runJQ(code, parsed.Info)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// runJQ reports whether the first value produced by code is truthy.
func runJQ(code *gojq.Code, input map[string]any) (bool, error) {
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, err
	}
	return isTruthy(v), nil
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

func (p *Processor) println(a ...any) error {
	if _, err := fmt.Fprintln(p.out, a...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (p *Processor) recordProcessed(version string) {
	if p.metrics != nil {
		p.metrics.RecordTransactionProcessed(version)
	}
}
