// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Go name mangling, matching what protoc-gen-go emits so that the
// generated parser compiles against the generated message package.

package gen

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"
)

func isASCIILower(c byte) bool { return 'a' <= c && c <= 'z' }
func isASCIIDigit(c byte) bool { return '0' <= c && c <= '9' }

// goCamelCase converts a proto identifier to the Go form, following the
// protoc-gen-go rules: underscores delimit words, a leading underscore
// becomes X, digits pass through.
func goCamelCase(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.' && i+1 < len(s) && isASCIILower(s[i+1]):
			// Skip over '.' in ".{{lowercase}}".
		case c == '.':
			b = append(b, '_')
		case c == '_' && (i == 0 || s[i-1] == '.'):
			// Convert initial '_' to ensure we start with a capital letter.
			b = append(b, 'X')
		case c == '_' && i+1 < len(s) && isASCIILower(s[i+1]):
			// Skip over '_' in "_{{lowercase}}".
		case isASCIIDigit(c):
			b = append(b, c)
		default:
			// Assume we have a letter; if not the shape is preserved anyway.
			if isASCIILower(c) {
				c -= 'a' - 'A'
			}
			b = append(b, c)
			for ; i+1 < len(s) && isASCIILower(s[i+1]); i++ {
				b = append(b, s[i+1])
			}
		}
	}
	return string(b)
}

// goMessageName returns the Go type name of a message within its package:
// nested declarations are joined with underscores (Outer_Inner).
func goMessageName(md protoreflect.MessageDescriptor) string {
	return goDeclName(md)
}

// goEnumName is goMessageName for enums.
func goEnumName(ed protoreflect.EnumDescriptor) string {
	return goDeclName(ed)
}

func goDeclName(d protoreflect.Descriptor) string {
	parts := []string{goCamelCase(string(d.Name()))}
	for p := d.Parent(); p != nil; p = p.Parent() {
		if _, ok := p.(protoreflect.MessageDescriptor); !ok {
			break
		}
		parts = append([]string{goCamelCase(string(p.Name()))}, parts...)
	}
	return strings.Join(parts, "_")
}

// goFieldName returns the Go struct field name for fd.
func goFieldName(fd protoreflect.FieldDescriptor) string {
	return goCamelCase(string(fd.Name()))
}

// goOneofName returns the Go struct field name of the oneof that fd
// belongs to.
func goOneofName(od protoreflect.OneofDescriptor) string {
	return goCamelCase(string(od.Name()))
}

// goOneofWrapperName returns the generated wrapper struct for a oneof
// member field (Msg_Field).
func goOneofWrapperName(fd protoreflect.FieldDescriptor) string {
	return goMessageName(fd.ContainingMessage()) + "_" + goFieldName(fd)
}

// goPackageName derives the package clause of the generated files from the
// schema's proto package: its last segment, sanitized into a Go identifier.
// An empty proto package falls back to "<prefix>parser".
func goPackageName(pkg protoreflect.FullName, prefix string) string {
	s := string(pkg)
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return prefix + "parser"
	}
	if r, _ := utf8.DecodeRuneInString(out); unicode.IsDigit(r) {
		out = "_" + out
	}
	return strings.ToLower(out)
}

// firstLower downcases the first rune of s.
func firstLower(s string) string {
	_, w := utf8.DecodeRuneInString(s)
	return strings.ToLower(s[:w]) + s[w:]
}
