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

// Command protog generates a streaming, push-style JSON parser specialized
// to one protobuf message type.
//
// Given a .proto file and a fully qualified message name it compiles the
// message's field tree into a numbered state machine and emits two Go
// files: the public parser surface and the per-event handler
// implementations. The emitted parser accepts a JSON document in
// arbitrarily sized chunks and writes field values directly into an
// instance of the compiled message type.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/system/exitcode"

	"github.com/weliveindetail/protog/gen"
	"github.com/weliveindetail/protog/graph"
	"github.com/weliveindetail/protog/schema"
)

var (
	verbose = flag.Bool("verbose", false, "print debug messages to stderr")
	outDir  = flag.String("out", ".", "directory to write the generated files into")
	checkInitialized = flag.Bool(
		"check-initialized", true,
		"emitted parsers verify required fields whenever an object closes")
)

func run(ctx context.Context, schemaPath, pbImportPath, messageName string) error {
	sc, err := schema.Load(ctx, schemaPath, messageName)
	if err != nil {
		return err
	}

	g, err := graph.Build(sc.Message)
	if err != nil {
		return errors.Fmt("building state machine for %s: %w", messageName, err)
	}
	logging.Debugf(ctx, "state machine (%d states):\n%s", g.States(), g.DebugString())

	gn := &gen.Generator{
		Schema:           sc,
		Graph:            g,
		PBImportPath:     pbImportPath,
		CheckInitialized: *checkInitialized,
	}
	files, err := gn.Files()
	if err != nil {
		return errors.Fmt("emitting parser for %s: %w", messageName, err)
	}

	for _, f := range files {
		path := filepath.Join(*outDir, f.Name)
		if err := os.WriteFile(path, f.Content, 0666); err != nil {
			return errors.Fmt("writing %q: %w", path, err)
		}
		logging.Infof(ctx, "wrote %s", path)
	}
	return nil
}

func setupLogging(ctx context.Context) context.Context {
	lvl := logging.Warning
	if *verbose {
		lvl = logging.Debug
	}
	return logging.SetLevel(gologger.StdConfig.Use(ctx), lvl)
}

func usage() {
	fmt.Fprintln(os.Stderr,
		`Generates a streaming JSON-to-protobuf parser for one message type.
usage: protog [flags] <schema.proto> <pb-import-path> <full.message.Name>

  <schema.proto>      protobuf schema file defining the message
  <pb-import-path>    Go import path of the message's compiled .pb.go package
  <full.message.Name> fully qualified name of the target message

e.g.:
$ protog mymessage.proto github.com/some/app/mypb some.ns.MyMessage

Flags:`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := setupLogging(context.Background())
	if err := run(ctx, flag.Arg(0), flag.Arg(1), flag.Arg(2)); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode := 1
		if rc, ok := exitcode.Get(err); ok {
			exitCode = rc
		}
		os.Exit(exitCode)
	}
}
