package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

var errNullObject = eris.New("extract: json is null")

// ExtractObject parses a single JSON object out of model text: the whole
// text first, then the first fenced block, then the span from the first
// '{' to the last '}'.
func ExtractObject(text string) Parse[map[string]any] {
	text = strings.TrimSpace(text)
	if text == "" {
		return Failure[map[string]any]("empty text")
	}

	if obj, err := decodeObject(text); err == nil {
		return Success(obj, TierDirect)
	}

	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if obj, err := decodeObject(strings.TrimSpace(m[1])); err == nil {
			return Success(obj, TierFenced)
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		obj, err := decodeObject(text[start : end+1])
		if err == nil {
			return Success(obj, TierObjectSpan)
		}
		return Failure[map[string]any]("object span is not json: %v", err)
	}
	return Failure[map[string]any]("no json object in text")
}

// DecodeInto re-marshals a parsed object into a typed value.
func DecodeInto[T any](obj map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(obj)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNullObject
	}
	return obj, nil
}
