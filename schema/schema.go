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

// Package schema loads a .proto file and resolves the message the parser
// will be generated for.
package schema

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bufbuild/protocompile/parser"
	"github.com/bufbuild/protocompile/reporter"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// Load failure classes, matchable with errors.Is.
var (
	ErrSchemaOpen      = errors.New("unable to open schema file")
	ErrSchemaParse     = errors.New("unable to parse schema file")
	ErrSchemaLink      = errors.New("unable to link schema file")
	ErrMessageNotFound = errors.New("message type not found in schema")
)

// Schema is a loaded .proto file together with the resolved target message.
type Schema struct {
	Path    string
	File    protoreflect.FileDescriptor
	Message protoreflect.MessageDescriptor
}

// Load parses the .proto file at path, installs it into a fresh descriptor
// pool and resolves fullName within it.
func Load(ctx context.Context, path, fullName string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Fmt("%w: %q: %v", ErrSchemaOpen, path, err)
	}
	defer f.Close()

	// The pool requires every file to carry a name; use the basename of the
	// input so diagnostics point back at something recognizable.
	name := filepath.Base(path)

	handler := reporter.NewHandler(nil)
	astRoot, err := parser.Parse(name, f, handler)
	if err != nil {
		return nil, errors.Fmt("%w: %q: %v", ErrSchemaParse, path, err)
	}
	res, err := parser.ResultFromAST(astRoot, true, handler)
	if err != nil {
		return nil, errors.Fmt("%w: %q: %v", ErrSchemaParse, path, err)
	}
	fdProto := res.FileDescriptorProto()
	fdProto.Name = proto.String(name)

	fd, err := protodesc.NewFile(fdProto, protoregistry.GlobalFiles)
	if err != nil {
		return nil, errors.Fmt("%w: %q: %v", ErrSchemaLink, path, err)
	}
	var pool protoregistry.Files
	if err := pool.RegisterFile(fd); err != nil {
		return nil, errors.Fmt("%w: %q: %v", ErrSchemaLink, path, err)
	}

	logging.Debugf(ctx, "loaded %q with the following messages:", path)
	for i := 0; i < fd.Messages().Len(); i++ {
		logging.Debugf(ctx, ">> %s", fd.Messages().Get(i).FullName())
	}

	desc, err := pool.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, errors.Fmt("%w: %q", ErrMessageNotFound, fullName)
	}
	msg, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, errors.Fmt("%w: %q names a %T", ErrMessageNotFound, fullName, desc)
	}

	return &Schema{Path: path, File: fd, Message: msg}, nil
}
