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

package gen

import "text/template"

// The templates produce valid but unevenly indented Go; render passes the
// result through go/format, so they optimize for readability here, not for
// output whitespace.

var headerTmpl = template.Must(template.New("header").Parse(`// Code generated by protog. DO NOT EDIT.
// source: {{.Source}}
// message: {{.Message}}

package {{.Package}}

import (
	pb "{{.PBImport}}"
)

// {{.Exported}} is a streaming JSON parser specialized to {{.Message}}.
//
// A parser serves one logical document at a time and is not safe for
// concurrent use. It may be Reset and reused.
type {{.Exported}} struct {
	st *{{.StateType}}
}

// {{.Msg}}ParserEasy parses a complete JSON document into a fresh message.
func {{.Msg}}ParserEasy(data []byte) (*pb.{{.Msg}}, error) {
	msg := new(pb.{{.Msg}})
	p := New{{.Exported}}(msg)
	defer p.Free()
	if err := p.OnChunk(data); err != nil {
		return nil, err
	}
	if err := p.Complete(); err != nil {
		return nil, err
	}
	return msg, nil
}

// New{{.Exported}} returns a parser that writes into msg.
func New{{.Exported}}(msg *pb.{{.Msg}}) *{{.Exported}} {
	return &{{.Exported}}{st: new{{.Msg}}ParserState(msg)}
}

// Free releases the tokenizer resources held by the parser.
func (p *{{.Exported}}) Free() {
	p.st.free()
}

// Reset clears the target message and rearms the parser for a new document.
func (p *{{.Exported}}) Reset() {
	p.st.reset()
}

// OnChunk feeds the next slice of the JSON document.
func (p *{{.Exported}}) OnChunk(chunk []byte) error {
	return p.st.onChunk(chunk)
}

// Complete marks the end of the document.
func (p *{{.Exported}}) Complete() error {
	return p.st.complete()
}

// Err returns the first error encountered by the parse, if any.
func (p *{{.Exported}}) Err() error {
	return p.st.lastErr()
}

// ErrorContext formats Err together with the position inside chunk, which
// should be the chunk last handed to OnChunk.
func (p *{{.Exported}}) ErrorContext(chunk []byte) string {
	return p.st.errorContext(chunk)
}
`))

var sourceTmpl = template.Must(template.New("source").Parse(`// Code generated by protog. DO NOT EDIT.
// source: {{.Source}}
// message: {{.Message}}

package {{.Package}}

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/weliveindetail/protog/jsonsax"

	pb "{{.PBImport}}"
)

type {{.StateType}}Config struct {
	checkInitialized bool
}

type {{.StateType}} struct {
	config   {{.StateType}}Config
	handle   *jsonsax.Handle
	location int
	req      *pb.{{.Msg}}
	msgStack []proto.Message
	failure  error
}

func new{{.Msg}}ParserState(msg *pb.{{.Msg}}) *{{.StateType}} {
	st := &{{.StateType}}{
		config: {{.StateType}}Config{checkInitialized: {{.CheckInitialized}}},
		req:    msg,
	}
	st.handle = jsonsax.New(&jsonsax.Callbacks{
		Null:       st.parseNull,
		Bool:       st.parseBoolean,
		Integer:    st.parseInteger,
		Double:     st.parseDouble,
		String:     st.parseString,
		StartMap:   st.parseStartMap,
		MapKey:     st.parseMapKey,
		EndMap:     st.parseEndMap,
		StartArray: st.parseStartArray,
		EndArray:   st.parseEndArray,
	}, jsonsax.Options{})
	return st
}

func (st *{{.StateType}}) top() proto.Message {
	return st.msgStack[len(st.msgStack)-1]
}

func (st *{{.StateType}}) fail(err error) error {
	if st.failure == nil {
		st.failure = err
	}
	return err
}

func (st *{{.StateType}}) parseNull() error {
	switch st.location {
{{- range .Null}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow null", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseBoolean(v bool) error {
	switch st.location {
{{- range .Bools}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow boolean", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseInteger(v int64) error {
	switch st.location {
{{- range .Longs}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow integer", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseDouble(v float64) error {
	switch st.location {
{{- range .Doubles}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow double", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseString(v []byte) error {
	switch st.location {
{{- range .Strings}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow string", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseStartMap() error {
	switch st.location {
{{- range .MapStart}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow object", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseMapKey(key []byte) error {
	switch st.location {
{{- range .MapKey}}
	case {{.Label}}: // {{.Comment}}
		switch jsonsax.KeyHash(key) {
{{- range .Keys}}
		case {{.Hash}}: // {{.Name}}
			st.location = {{.Target}}
{{- end}}
		default:
			return st.fail(fmt.Errorf("invalid key %q for {{.Full}}", key))
		}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow a key (%q)", st.location, key))
	}
	return nil
}

func (st *{{.StateType}}) parseEndMap() error {
	if st.config.checkInitialized {
		if err := proto.CheckInitialized(st.top()); err != nil {
			return st.fail(err)
		}
	}
	switch st.location {
{{- range .MapEnd}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow closing object", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseStartArray() error {
	switch st.location {
{{- range .ArrStart}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow array", st.location))
	}
	return nil
}

func (st *{{.StateType}}) parseEndArray() error {
	switch st.location {
{{- range .ArrEnd}}
	case {{.Label}}: // {{.Comment}}
{{- range .Stmts}}
		{{.}}
{{- end}}
{{- end}}
	default:
		return st.fail(fmt.Errorf("state %d does not allow closing array", st.location))
	}
	return nil
}

func (st *{{.StateType}}) onChunk(chunk []byte) error {
	return st.handle.Parse(chunk)
}

func (st *{{.StateType}}) complete() error {
	return st.handle.Complete()
}

func (st *{{.StateType}}) reset() {
	st.location = 0
	proto.Reset(st.req)
	st.msgStack = st.msgStack[:0]
	st.failure = nil
	st.handle.Reset()
}

func (st *{{.StateType}}) free() {
	st.handle = nil
	st.msgStack = nil
}

func (st *{{.StateType}}) lastErr() error {
	if st.failure != nil {
		return st.failure
	}
	return st.handle.Err()
}

func (st *{{.StateType}}) errorContext(chunk []byte) string {
	return st.handle.ErrorContext(chunk)
}
`))
