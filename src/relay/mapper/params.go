package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"go.lsp.dev/uri"
)

// Field keys rewritten by the interceptor. Everything else in params passes through untouched.
const (
	_keyRootURI          = "rootUri"
	_keyRootPath         = "rootPath"
	_keyWorkspaceFolders = "workspaceFolders"
	_keyTextDocument     = "textDocument"
	_keyURI              = "uri"
	_keyText             = "text"
)

// paramsToFields decodes the top level of a params object without interpreting
// unknown members, so they can be re-encoded byte-for-byte.
func paramsToFields(params json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(params) == 0 || string(params) == "null" {
		return fields, nil
	}
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, fmt.Errorf("decoding params object: %w", err)
	}
	return fields, nil
}

// SetRootContext overwrites the root context fields of initialize params with the
// given execution root, leaving all other members of params as supplied by the client.
func SetRootContext(params json.RawMessage, executionRoot string) (json.RawMessage, error) {
	fields, err := paramsToFields(params)
	if err != nil {
		return nil, err
	}

	rootURI := uri.File(executionRoot)
	folders := []map[string]string{
		{_keyURI: string(rootURI), "name": entity.WorkspaceFolderName},
	}

	if fields[_keyRootURI], err = json.Marshal(rootURI); err != nil {
		return nil, err
	}
	if fields[_keyRootPath], err = json.Marshal(executionRoot); err != nil {
		return nil, err
	}
	if fields[_keyWorkspaceFolders], err = json.Marshal(folders); err != nil {
		return nil, err
	}

	return json.Marshal(fields)
}

// DocumentURI returns the textDocument.uri member of params, if present.
func DocumentURI(params json.RawMessage) (string, bool) {
	fields, err := paramsToFields(params)
	if err != nil {
		return "", false
	}
	doc, ok := fields[_keyTextDocument]
	if !ok {
		return "", false
	}
	docFields := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &docFields); err != nil {
		return "", false
	}
	var raw string
	if err := json.Unmarshal(docFields[_keyURI], &raw); err != nil {
		return "", false
	}
	return raw, true
}

// SetDocumentURI replaces textDocument.uri in params, preserving every other member
// of both params and textDocument.
func SetDocumentURI(params json.RawMessage, value string) (json.RawMessage, error) {
	fields, err := paramsToFields(params)
	if err != nil {
		return nil, err
	}
	docFields := map[string]json.RawMessage{}
	if doc, ok := fields[_keyTextDocument]; ok {
		if err := json.Unmarshal(doc, &docFields); err != nil {
			return nil, fmt.Errorf("decoding textDocument: %w", err)
		}
	}
	if docFields[_keyURI], err = json.Marshal(value); err != nil {
		return nil, err
	}
	if fields[_keyTextDocument], err = json.Marshal(docFields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// InlineText returns document text carried inline in params, checking the
// textDocument object first and then the params top level.
func InlineText(params json.RawMessage) (string, bool) {
	fields, err := paramsToFields(params)
	if err != nil {
		return "", false
	}

	if doc, ok := fields[_keyTextDocument]; ok {
		docFields := map[string]json.RawMessage{}
		if err := json.Unmarshal(doc, &docFields); err == nil {
			if raw, ok := docFields[_keyText]; ok {
				var text string
				if err := json.Unmarshal(raw, &text); err == nil {
					return text, true
				}
			}
		}
	}

	if raw, ok := fields[_keyText]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text, true
		}
	}
	return "", false
}
