package object

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// ErrNoFrontMatter is returned when a file does not open with a "---" line.
var ErrNoFrontMatter = errors.New("missing front matter")

// Parse decodes an object file: a YAML block between "---" lines followed
// by a Markdown body.
func Parse(data []byte) (*Object, error) {
	fm, body, err := split(data)
	if err != nil {
		return nil, err
	}

	var obj Object
	if err := yaml.Unmarshal(fm, &obj); err != nil {
		return nil, fmt.Errorf("decoding front matter: %w", err)
	}
	obj.Body = body
	return &obj, nil
}

// Marshal encodes obj in the on-disk format. The body, when present, is
// separated from the closing delimiter by one blank line.
func Marshal(obj *Object) ([]byte, error) {
	var fm bytes.Buffer
	enc := yaml.NewEncoder(&fm)
	enc.SetIndent(2)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encoding front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding front matter: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(delimiter + "\n")
	out.Write(fm.Bytes())
	out.WriteString(delimiter + "\n")
	if obj.Body != "" {
		out.WriteString("\n")
		out.WriteString(obj.Body)
		if !strings.HasSuffix(obj.Body, "\n") {
			out.WriteString("\n")
		}
	}
	return out.Bytes(), nil
}

// split separates the front matter from the body. CRLF line endings are
// accepted on input.
func split(data []byte) ([]byte, string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, "", ErrNoFrontMatter
	}
	rest := text[len(delimiter)+1:]

	var fm, body string
	switch {
	case strings.HasPrefix(rest, delimiter+"\n"):
		body = rest[len(delimiter)+1:]
	case rest == delimiter:
	default:
		idx := strings.Index(rest, "\n"+delimiter+"\n")
		if idx >= 0 {
			fm = rest[:idx+1]
			body = rest[idx+len(delimiter)+2:]
		} else if strings.HasSuffix(rest, "\n"+delimiter) {
			fm = rest[:len(rest)-len(delimiter)]
		} else {
			return nil, "", errors.New("unterminated front matter")
		}
	}

	body = strings.TrimPrefix(body, "\n")
	return []byte(fm), body, nil
}
