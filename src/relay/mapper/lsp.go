package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	protocolmapper "github.com/jesse-ai/lsp-relay/src/relay/internal/protocol"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// EditOffset stores a string modification based on character offset in the string.
type EditOffset struct {
	start int
	end   int
	text  string
}

// RequestToDocumentFormattingParams maps the parameters from a jsonrpc2.Request into protocol.DocumentFormattingParams.
func RequestToDocumentFormattingParams(req jsonrpc2.Request) (*protocol.DocumentFormattingParams, error) {
	params := protocol.DocumentFormattingParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToDocumentRangeFormattingParams maps the parameters from a jsonrpc2.Request into protocol.DocumentRangeFormattingParams.
func RequestToDocumentRangeFormattingParams(req jsonrpc2.Request) (*protocol.DocumentRangeFormattingParams, error) {
	params := protocol.DocumentRangeFormattingParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// WholeDocumentEdit produces a single replacement edit spanning the full original text.
// The end position stops at the end of the last content line: a trailing line
// terminator does not extend the range onto a synthetic empty final line.
func WholeDocumentEdit(original, formatted string) ([]protocol.TextEdit, error) {
	trailing := ""
	if strings.HasSuffix(original, "\r\n") {
		trailing = "\r\n"
	} else if strings.HasSuffix(original, "\n") {
		trailing = "\n"
	}
	// The terminator can only stay outside the replaced range if the formatted
	// text keeps it; otherwise the whole document is replaced.
	if trailing != "" && !strings.HasSuffix(formatted, trailing) {
		trailing = ""
	}
	end := len(original) - len(trailing)

	// The original terminator stays outside the replaced range, so the same
	// terminator is dropped from the replacement text. Applying the edit then
	// reproduces the formatted text exactly.
	text := formatted
	if trailing != "" {
		text = text[:len(text)-len(trailing)]
	}

	m := protocolmapper.NewTextOffsetMapper([]byte(original))
	endPosition, err := m.OffsetPosition(end)
	if err != nil {
		return nil, fmt.Errorf("computing end of document: %w", err)
	}

	return []protocol.TextEdit{
		rangeToTextEdit(PositionsToRange(protocol.Position{Line: 0, Character: 0}, endPosition), text),
	}, nil
}

// DiffsToEditOffsets converts diffs into a list of text edits based on offsets within the initial text.
func DiffsToEditOffsets(diffs []diffmatchpatch.Diff) (initialText bytes.Buffer, offsets []EditOffset) {
	edits := make([]EditOffset, 0, len(diffs))
	offset := 0
	for _, d := range diffs {
		start := offset
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			initialText.Write([]byte(d.Text))
			offset += len(d.Text)
			edits = append(edits, EditOffset{start: start, end: offset, text: ""})
		case diffmatchpatch.DiffEqual:
			initialText.Write([]byte(d.Text))
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			edits = append(edits, EditOffset{start: start, end: start, text: d.Text})
		}
	}
	return initialText, edits
}

// EditOffsetsToTextEdits converts a list of offset based edits to TextEdits formatted for LSP protocol.
func EditOffsetsToTextEdits(initialText bytes.Buffer, edits []EditOffset) ([]protocol.TextEdit, error) {
	protocolTextEdits := make([]protocol.TextEdit, 0, len(edits))
	m := protocolmapper.NewTextOffsetMapper(initialText.Bytes())
	for _, edit := range edits {
		startPosition, err := m.OffsetPosition(edit.start)
		if err != nil {
			return nil, err
		}
		endPosition, err := m.OffsetPosition(edit.end)
		if err != nil {
			return nil, err
		}
		protocolTextEdits = append(protocolTextEdits, rangeToTextEdit(PositionsToRange(startPosition, endPosition), edit.text))
	}
	return protocolTextEdits, nil
}

// MinimalTextEdits diffs the original against the formatted text and returns the
// smallest set of edits that transforms one into the other.
func MinimalTextEdits(original, formatted string) ([]protocol.TextEdit, error) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, formatted, false)
	foundText, edits := DiffsToEditOffsets(diffs)
	return EditOffsetsToTextEdits(foundText, edits)
}

// ApplyTextEdits applies the given edits to a text string.
func ApplyTextEdits(initialText string, edits []protocol.TextEdit) (string, error) {
	sorted := make([]protocol.TextEdit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Range.Start.Line != sorted[j].Range.Start.Line {
			return sorted[i].Range.Start.Line > sorted[j].Range.Start.Line
		}
		return sorted[i].Range.Start.Character > sorted[j].Range.Start.Character
	})

	content := []byte(initialText)
	for _, edit := range sorted {
		m := protocolmapper.NewTextOffsetMapper(content)
		start, err := m.PositionOffset(edit.Range.Start)
		if err != nil {
			return "", fmt.Errorf("unable to apply edits: %w", err)
		}
		end, err := m.PositionOffset(edit.Range.End)
		if err != nil {
			return "", fmt.Errorf("unable to apply edits: %w", err)
		}
		var buf bytes.Buffer
		buf.Write(content[:start])
		buf.Write([]byte(edit.NewText))
		buf.Write(content[end:])
		content = buf.Bytes()
	}

	return string(content), nil
}

// PositionsToRange converts two positions into a range.
func PositionsToRange(start, end protocol.Position) protocol.Range {
	return protocol.Range{
		Start: start,
		End:   end,
	}
}

func rangeToTextEdit(r protocol.Range, text string) protocol.TextEdit {
	return protocol.TextEdit{
		Range:   r,
		NewText: text,
	}
}

func wrapErrParse(err error) error {
	return fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
}
