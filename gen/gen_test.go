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

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"github.com/weliveindetail/protog/graph"
	"github.com/weliveindetail/protog/schema"
)

const fixtureProto = `
syntax = "proto2";
package some.ns;

message Point {
  optional int32 x = 1;
  optional double y = 2;
  optional bool flag = 3;
  optional string label = 4;
}

message Pair {
  optional Point a = 1;
  optional Point b = 2;
}

message Seq {
  repeated int32 xs = 1;
}

message Poly {
  repeated Point pts = 1;
}

enum Color {
  RED = 0;
  GREEN = 1;
}

message Painted {
  optional Color c = 1;
  repeated Color cs = 2;
}
`

func generate(t testing.TB, protoText, msgName string) (*graph.Graph, []File) {
	t.Helper()
	g, files, err := generateErr(t, protoText, msgName)
	if err != nil {
		t.Fatal(err)
	}
	return g, files
}

func generateErr(t testing.TB, protoText, msgName string) (*graph.Graph, []File, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.proto")
	if err := os.WriteFile(path, []byte(protoText), 0666); err != nil {
		t.Fatal(err)
	}
	sc, err := schema.Load(context.Background(), path, msgName)
	if err != nil {
		t.Fatal(err)
	}
	g, err := graph.Build(sc.Message)
	if err != nil {
		t.Fatal(err)
	}
	gn := &Generator{
		Schema:           sc,
		Graph:            g,
		PBImportPath:     "github.com/acme/app/nspb",
		CheckInitialized: true,
	}
	files, err := gn.Files()
	return g, files, err
}

// handlerBody extracts the text of one emitted top-level func.
func handlerBody(t testing.TB, src, name string) string {
	t.Helper()
	marker := ") " + name + "("
	start := strings.Index(src, marker)
	if start < 0 {
		t.Fatalf("handler %s not found", name)
	}
	rest := src[start:]
	end := strings.Index(rest, "\nfunc ")
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}

var (
	caseRe   = regexp.MustCompile(`(?m)^\tcase (\d+):`)
	targetRe = regexp.MustCompile(`st\.location = (\d+)`)
)

func caseLabels(body string) []int {
	out := []int{}
	for _, m := range caseRe.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		out = append(out, n)
	}
	return out
}

func targets(body string) []int {
	out := []int{}
	for _, m := range targetRe.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		out = append(out, n)
	}
	return out
}

func states(nodes []*graph.Node) []int {
	out := []int{}
	for _, n := range nodes {
		out = append(out, n.State)
	}
	return out
}

func TestArtifacts(t *testing.T) {
	t.Parallel()

	ftt.Run("Emitted artifacts", t, func(t *ftt.Test) {
		_, files := generate(t, fixtureProto, "some.ns.Point")
		assert.Loosely(t, files, should.HaveLength(2))
		assert.Loosely(t, files[0].Name, should.Equal("point_parser.pb.go"))
		assert.Loosely(t, files[1].Name, should.Equal("point_parser_impl.pb.go"))

		header := string(files[0].Content)
		source := string(files[1].Content)

		t.Run("header declares the public surface", func(t *ftt.Test) {
			assert.Loosely(t, header, should.ContainSubstring("package ns"))
			assert.Loosely(t, header, should.ContainSubstring(`pb "github.com/acme/app/nspb"`))
			assert.Loosely(t, header, should.ContainSubstring("type PointParser struct"))
			assert.Loosely(t, header, should.ContainSubstring("func PointParserEasy(data []byte) (*pb.Point, error)"))
			assert.Loosely(t, header, should.ContainSubstring("func NewPointParser(msg *pb.Point) *PointParser"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) OnChunk(chunk []byte) error"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) Complete() error"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) Free()"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) Reset()"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) Err() error"))
			assert.Loosely(t, header, should.ContainSubstring("func (p *PointParser) ErrorContext(chunk []byte) string"))
		})

		t.Run("source wires the callback table", func(t *ftt.Test) {
			assert.Loosely(t, source, should.ContainSubstring("jsonsax.New(&jsonsax.Callbacks{"))
			assert.Loosely(t, source, should.ContainSubstring("checkInitialized: true"))
			assert.Loosely(t, source, should.ContainSubstring("proto.CheckInitialized(st.top())"))
		})

		t.Run("scalar sites write through setters", func(t *ftt.Test) {
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Point).X = proto.Int32(int32(v))"))
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Point).Label = proto.String(string(v))"))
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Point).Flag = proto.Bool(v)"))
		})

		t.Run("widened sites coerce in the integer handler", func(t *ftt.Test) {
			integer := handlerBody(t, source, "parseInteger")
			assert.Loosely(t, integer, should.ContainSubstring("proto.Bool(v != 0)"))
			assert.Loosely(t, integer, should.ContainSubstring("proto.Float64(float64(v))"))
		})

		t.Run("null sites clear and return to the parent", func(t *ftt.Test) {
			null := handlerBody(t, source, "parseNull")
			assert.Loosely(t, null, should.ContainSubstring("st.top().(*pb.Point).X = nil"))
			assert.Loosely(t, null, should.ContainSubstring("st.location = 1"))
		})

		t.Run("document start pushes the target message", func(t *ftt.Test) {
			start := handlerBody(t, source, "parseStartMap")
			assert.Loosely(t, start, should.ContainSubstring("case 0: // map ."))
			assert.Loosely(t, start, should.ContainSubstring("st.msgStack = append(st.msgStack[:0], st.req)"))
		})

		t.Run("unknown keys are rejected", func(t *ftt.Test) {
			keys := handlerBody(t, source, "parseMapKey")
			assert.Loosely(t, keys, should.ContainSubstring(`invalid key %q for .`))
		})
	})
}

func TestDeterminism(t *testing.T) {
	t.Parallel()

	ftt.Run("Generation is deterministic", t, func(t *ftt.Test) {
		for _, msg := range []string{"some.ns.Point", "some.ns.Pair", "some.ns.Poly"} {
			_, a := generate(t, fixtureProto, msg)
			_, b := generate(t, fixtureProto, msg)
			for i := range a {
				assert.Loosely(t, bytes.Equal(a[i].Content, b[i].Content), should.BeTrue)
			}
		}
	})
}

func TestDispatchTables(t *testing.T) {
	t.Parallel()

	ftt.Run("Case labels match the index views", t, func(t *ftt.Test) {
		for _, msg := range []string{"some.ns.Point", "some.ns.Pair", "some.ns.Seq", "some.ns.Poly", "some.ns.Painted"} {
			g, files := generate(t, fixtureProto, msg)
			source := string(files[1].Content)
			ix := g.Index

			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseNull")), should.Match(states(ix.Nullable)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseBoolean")), should.Match(states(ix.Bools)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseInteger")), should.Match(states(ix.Longs)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseDouble")), should.Match(states(ix.Doubles)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseString")), should.Match(states(ix.Strings)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseMapKey")), should.Match(states(ix.Objects)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseEndMap")), should.Match(states(ix.Objects)))
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseStartArray")), should.Match(states(ix.Arrays)))

			// '{' is legal at the document start and at every key-of-message
			// state; ']' arrives while located at the array's element state.
			wantStarts := []int{}
			for _, n := range ix.Objects {
				if n.Parent == nil {
					wantStarts = append(wantStarts, 0)
				} else {
					wantStarts = append(wantStarts, n.Parent.State)
				}
			}
			sort.Ints(wantStarts)
			gotStarts := caseLabels(handlerBody(t, source, "parseStartMap"))
			sort.Ints(gotStarts)
			assert.Loosely(t, gotStarts, should.Match(wantStarts))

			wantEnds := []int{}
			for _, n := range ix.Arrays {
				wantEnds = append(wantEnds, n.Children[0].State)
			}
			assert.Loosely(t, caseLabels(handlerBody(t, source, "parseEndArray")), should.Match(wantEnds))

			// Every transition target is an allocated state (or 0).
			for _, tgt := range targets(source) {
				assert.Loosely(t, tgt, should.BeLessThanOrEqual(g.States()))
			}
		}
	})
}

func TestNestedAndRepeated(t *testing.T) {
	t.Parallel()

	ftt.Run("Singular message fields reuse an existing child", t, func(t *ftt.Test) {
		_, files := generate(t, fixtureProto, "some.ns.Pair")
		source := string(files[1].Content)
		start := handlerBody(t, source, "parseStartMap")
		assert.Loosely(t, start, should.ContainSubstring("m := st.top().(*pb.Pair)"))
		assert.Loosely(t, start, should.ContainSubstring("if m.A == nil {"))
		assert.Loosely(t, start, should.ContainSubstring("m.A = new(pb.Point)"))
		assert.Loosely(t, start, should.ContainSubstring("st.msgStack = append(st.msgStack, m.A)"))

		// '}' inside a singular message returns to the grandparent object.
		end := handlerBody(t, source, "parseEndMap")
		assert.Loosely(t, end, should.ContainSubstring("case 3: // map .a."))
		assert.Loosely(t, end, should.ContainSubstring("st.location = 1"))
	})

	ftt.Run("Repeated scalars append and stay put", t, func(t *ftt.Test) {
		g, files := generate(t, fixtureProto, "some.ns.Seq")
		source := string(files[1].Content)
		integer := handlerBody(t, source, "parseInteger")
		assert.Loosely(t, integer, should.ContainSubstring("m.Xs = append(m.Xs, int32(v))"))
		// The element case carries no location assignment: the array close
		// transitions instead.
		assert.Loosely(t, targets(integer), should.HaveLength(0))

		// ']' at the element state returns to the enclosing object.
		arrEnd := handlerBody(t, source, "parseEndArray")
		elem := g.Index.Arrays[0].Children[0]
		assert.Loosely(t, caseLabels(arrEnd), should.Match([]int{elem.State}))
		assert.Loosely(t, targets(arrEnd), should.Match([]int{1}))
	})

	ftt.Run("Repeated messages cycle through the key state", t, func(t *ftt.Test) {
		_, files := generate(t, fixtureProto, "some.ns.Poly")
		source := string(files[1].Content)

		start := handlerBody(t, source, "parseStartMap")
		assert.Loosely(t, start, should.ContainSubstring("child := new(pb.Point)"))
		assert.Loosely(t, start, should.ContainSubstring("m.Pts = append(m.Pts, child)"))
		assert.Loosely(t, start, should.ContainSubstring("st.msgStack = append(st.msgStack, child)"))

		// Graph: root=1, array=2, key=3, object=4. '}' returns to the key
		// state (the grandparent is the array), so the next '{' opens a new
		// element; ']' then returns to the root object.
		end := handlerBody(t, source, "parseEndMap")
		assert.Loosely(t, end, should.ContainSubstring("case 4: // map .pts[]."))
		assert.Loosely(t, handlerCaseTarget(t, end, 4), should.Equal(3))

		arrEnd := handlerBody(t, source, "parseEndArray")
		assert.Loosely(t, caseLabels(arrEnd), should.Match([]int{3}))
		assert.Loosely(t, targets(arrEnd), should.Match([]int{1}))
	})

	ftt.Run("Enum sites cast the integer", t, func(t *ftt.Test) {
		_, files := generate(t, fixtureProto, "some.ns.Painted")
		source := string(files[1].Content)
		integer := handlerBody(t, source, "parseInteger")
		assert.Loosely(t, integer, should.ContainSubstring("ev := pb.Color(v)"))
		assert.Loosely(t, integer, should.ContainSubstring("st.top().(*pb.Painted).C = &ev"))
		assert.Loosely(t, integer, should.ContainSubstring("m.Cs = append(m.Cs, pb.Color(v))"))
	})
}

// handlerCaseTarget returns the first transition target inside `case label:`.
func handlerCaseTarget(t testing.TB, body string, label int) int {
	t.Helper()
	marker := "case " + strconv.Itoa(label) + ":"
	at := strings.Index(body, marker)
	if at < 0 {
		t.Fatalf("case %d not found", label)
	}
	rest := body[at:]
	if next := strings.Index(rest[1:], "\tcase "); next > 0 {
		rest = rest[:next+1]
	}
	m := targetRe.FindStringSubmatch(rest)
	if m == nil {
		t.Fatalf("no transition inside case %d", label)
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func TestPresenceVariants(t *testing.T) {
	t.Parallel()

	ftt.Run("proto3 fields", t, func(t *ftt.Test) {
		const p3 = `
syntax = "proto3";
package p3;
message Imp {
  int32 n = 1;
  optional int32 o = 2;
  string s = 3;
}
`
		_, files := generate(t, p3, "p3.Imp")
		source := string(files[1].Content)

		t.Run("implicit presence assigns directly", func(t *ftt.Test) {
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Imp).N = int32(v)"))
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Imp).S = string(v)"))
		})

		t.Run("explicit presence goes through a pointer", func(t *ftt.Test) {
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Imp).O = proto.Int32(int32(v))"))
		})

		t.Run("null zeroes implicit fields and nils pointers", func(t *ftt.Test) {
			null := handlerBody(t, source, "parseNull")
			assert.Loosely(t, null, should.ContainSubstring("st.top().(*pb.Imp).N = 0"))
			assert.Loosely(t, null, should.ContainSubstring(`st.top().(*pb.Imp).S = ""`))
			assert.Loosely(t, null, should.ContainSubstring("st.top().(*pb.Imp).O = nil"))
		})
	})

	ftt.Run("oneof members", t, func(t *ftt.Test) {
		const oo = `
syntax = "proto2";
package oo;
message Inner { optional string v = 1; }
message Shape {
  oneof kind {
    int64 num = 1;
    Inner obj = 2;
  }
}
`
		_, files := generate(t, oo, "oo.Shape")
		source := string(files[1].Content)

		t.Run("scalar member wraps", func(t *ftt.Test) {
			assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Shape).Kind = &pb.Shape_Num{Num: v}"))
		})

		t.Run("message member pushes through the wrapper", func(t *ftt.Test) {
			start := handlerBody(t, source, "parseStartMap")
			assert.Loosely(t, start, should.ContainSubstring("child := new(pb.Inner)"))
			assert.Loosely(t, start, should.ContainSubstring("m.Kind = &pb.Shape_Obj{Obj: child}"))
		})

		t.Run("null clears the oneof", func(t *ftt.Test) {
			null := handlerBody(t, source, "parseNull")
			assert.Loosely(t, null, should.ContainSubstring("st.top().(*pb.Shape).Kind = nil"))
		})
	})

	ftt.Run("nested message types", t, func(t *ftt.Test) {
		const nested = `
syntax = "proto2";
package nn;
message Outer {
  optional Inner i = 1;
  message Inner { optional int32 n = 1; }
}
`
		_, files := generate(t, nested, "nn.Outer")
		source := string(files[1].Content)
		assert.Loosely(t, source, should.ContainSubstring("new(pb.Outer_Inner)"))
		assert.Loosely(t, source, should.ContainSubstring("st.top().(*pb.Outer_Inner).N = proto.Int32(int32(v))"))
	})
}

func TestGenerationRejections(t *testing.T) {
	t.Parallel()

	ftt.Run("Sibling keys that collide under the key hash", t, func(t *ftt.Test) {
		// "costarring" and "liquid" collide under FNV-1a/32.
		const colliding = `
syntax = "proto2";
package cc;
message Bad {
  optional int32 costarring = 1;
  optional int32 liquid = 2;
}
`
		_, _, err := generateErr(t, colliding, "cc.Bad")
		assert.Loosely(t, errors.Is(err, ErrHashCollision), should.BeTrue)
		assert.Loosely(t, err, should.ErrLike("costarring"))
		assert.Loosely(t, err, should.ErrLike("liquid"))
	})

	ftt.Run("The colliding pair is fine in different objects", t, func(t *ftt.Test) {
		const split = `
syntax = "proto2";
package cc;
message A { optional int32 costarring = 1; optional B b = 2; }
message B { optional int32 liquid = 1; }
`
		_, _, err := generateErr(t, split, "cc.A")
		assert.Loosely(t, err, should.BeNil)
	})
}

func TestCheckInitializedFlag(t *testing.T) {
	t.Parallel()

	ftt.Run("CheckInitialized default is baked into the constructor", t, func(t *ftt.Test) {
		path := filepath.Join(t.TempDir(), "fixture.proto")
		assert.Loosely(t, os.WriteFile(path, []byte(fixtureProto), 0666), should.BeNil)
		sc, err := schema.Load(context.Background(), path, "some.ns.Point")
		assert.Loosely(t, err, should.BeNil)
		g, err := graph.Build(sc.Message)
		assert.Loosely(t, err, should.BeNil)

		gn := &Generator{Schema: sc, Graph: g, PBImportPath: "github.com/acme/app/nspb"}
		files, err := gn.Files()
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, string(files[1].Content), should.ContainSubstring("checkInitialized: false"))
	})
}

func TestNames(t *testing.T) {
	t.Parallel()

	ftt.Run("goCamelCase follows protoc-gen-go", t, func(t *ftt.Test) {
		cases := map[string]string{
			"x":             "X",
			"foo_bar":       "FooBar",
			"foo_bar_baz":   "FooBarBaz",
			"_foo":          "XFoo",
			"foo2bar":       "Foo2Bar",
			"fooBar":        "FooBar",
			"FOO_bar":       "FOOBar",
		}
		for in, want := range cases {
			assert.Loosely(t, goCamelCase(in), should.Equal(want))
		}
	})

	ftt.Run("package name derives from the proto package", t, func(t *ftt.Test) {
		_, files := generate(t, fixtureProto, "some.ns.Point")
		assert.Loosely(t, string(files[0].Content), should.ContainSubstring("package ns"))
	})
}
