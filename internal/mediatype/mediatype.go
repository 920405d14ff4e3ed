// Package mediatype implements the MediaType tagged variant from spec.md
// §3: determined by file extension for local files and by the
// content-type response header for remote files, with the header winning
// on conflict.
package mediatype

import "strings"

type MediaType uint8

const (
	Unknown MediaType = iota
	JavaScript
	JSX
	TypeScript
	TSX
	MTS
	CTS
	Json
	Jsonc
	Wasm
	Text
	Bytes
	Dts
	Dmts
	Dcts
)

func (m MediaType) String() string {
	switch m {
	case JavaScript:
		return "JavaScript"
	case JSX:
		return "JSX"
	case TypeScript:
		return "TypeScript"
	case TSX:
		return "TSX"
	case MTS:
		return "MTS"
	case CTS:
		return "CTS"
	case Json:
		return "Json"
	case Jsonc:
		return "Jsonc"
	case Wasm:
		return "Wasm"
	case Text:
		return "Text"
	case Bytes:
		return "Bytes"
	case Dts:
		return "Dts"
	case Dmts:
		return "Dmts"
	case Dcts:
		return "Dcts"
	default:
		return "Unknown"
	}
}

// IsJS reports whether this media type is parsed by the Module Analyzer's
// JS/TS grammar (as opposed to Json/Wasm/Text/Bytes, which are not).
func (m MediaType) IsJS() bool {
	switch m {
	case JavaScript, JSX, TypeScript, TSX, MTS, CTS, Dts, Dmts, Dcts:
		return true
	default:
		return false
	}
}

// IsJSX reports whether JSX syntax is syntactically accepted in this media
// type (spec.md §4.4: "JSX is syntactically accepted only for
// .jsx/.tsx").
func (m MediaType) IsJSX() bool {
	return m == JSX || m == TSX
}

// FromExtension determines a MediaType from a local file path's extension.
func FromExtension(path string) MediaType {
	ext := extensionOf(path)
	switch ext {
	case ".d.ts":
		return Dts
	case ".d.mts":
		return Dmts
	case ".d.cts":
		return Dcts
	case ".mts":
		return MTS
	case ".cts":
		return CTS
	case ".ts":
		return TypeScript
	case ".tsx":
		return TSX
	case ".mjs", ".cjs", ".js":
		return JavaScript
	case ".jsx":
		return JSX
	case ".json":
		return Json
	case ".jsonc":
		return Jsonc
	case ".wasm":
		return Wasm
	case ".txt", ".md":
		return Text
	default:
		return Unknown
	}
}

func extensionOf(path string) string {
	if strings.HasSuffix(path, ".d.ts") {
		return ".d.ts"
	}
	if strings.HasSuffix(path, ".d.mts") {
		return ".d.mts"
	}
	if strings.HasSuffix(path, ".d.cts") {
		return ".d.cts"
	}
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i:]
}

// contentTypeTable maps the media type portion of a content-type header
// (before any ";charset=..." suffix) to a MediaType. The header wins on
// conflict with the extension-derived guess, per spec.md §3.
var contentTypeTable = map[string]MediaType{
	"application/javascript":   JavaScript,
	"text/javascript":          JavaScript,
	"application/x-javascript": JavaScript,
	"application/typescript":   TypeScript,
	"text/typescript":          TypeScript,
	"video/mp2t":               TypeScript, // historical content-type seen for .ts files
	"application/json":         Json,
	"text/json":                Json,
	"application/wasm":         Wasm,
	"text/plain":               Text,
	"application/octet-stream": Bytes,
}

// FromContentType determines a MediaType from an HTTP content-type header
// value. An unrecognized or absent header falls back to the
// extension-derived guess passed in as fallback.
func FromContentType(contentType string, fallback MediaType) MediaType {
	if contentType == "" {
		return fallback
	}
	mime := contentType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mt, ok := contentTypeTable[mime]; ok {
		return mt
	}
	return fallback
}
