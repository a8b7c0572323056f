package types //nolint:revive // types is a valid package name

import (
	"errors"
	"testing"
)

func TestRequest_Validate(t *testing.T) {
	base := Request{Kind: KindByFile, TestFile: "/a.test.js"}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"all tests", Request{Kind: KindAllTests}, nil},
		{"unknown kind", Request{Kind: "nope"}, ErrUnknownKind},
		{"by-file missing file", Request{Kind: KindByFile}, ErrMissingTestFile},
		{"by-file-test missing name", Request{Kind: KindByFileTest, TestFile: "/a.js"}, ErrMissingTestName},
		{"by-file-pattern missing pattern", Request{Kind: KindByFilePattern}, ErrMissingPattern},
		{"by-file-test-pattern ok", Request{Kind: KindByFileTestPattern, FilePattern: "src", TestName: "x"}, nil},
		{"update-snapshot missing base", Request{Kind: KindUpdateSnapshot}, ErrMissingBase},
		{"update-snapshot ok", Request{Kind: KindUpdateSnapshot, Base: &base}, nil},
		{
			"update-snapshot nested",
			Request{Kind: KindUpdateSnapshot, Base: &Request{Kind: KindUpdateSnapshot, Base: &base}},
			ErrNestedUpdateBase,
		},
		{
			"update-snapshot of snapshot run",
			Request{Kind: KindUpdateSnapshot, Base: &Request{Kind: KindAllTests, UpdateSnapshot: true}},
			ErrNestedUpdateBase,
		},
		{"initial with parent", Request{Kind: KindAllTests, Attempt: 1, ParentProcessID: "p"}, ErrInvalidLineage},
		{"retry without parent", Request{Kind: KindAllTests, Attempt: 2}, ErrInvalidLineage},
		{"retry with parent", Request{Kind: KindAllTests, Attempt: 2, ParentProcessID: "p"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_ContentKey(t *testing.T) {
	a := Request{Kind: KindByFile, TestFile: "/a.js"}
	b := Request{Kind: KindByFile, TestFile: "/a.js"}
	c := Request{Kind: KindByFile, TestFile: "/b.js"}

	if !a.SameContent(b) {
		t.Error("equal payloads should share a content key")
	}
	if a.SameContent(c) {
		t.Error("different files should not share a content key")
	}

	retry := a.Retry("proc-1")
	if !a.SameContent(retry) {
		t.Error("lineage must not affect content key")
	}

	// Field boundaries are separated so concatenations do not collide.
	x := Request{Kind: KindByFileTest, TestFile: "ab", TestName: "c"}
	y := Request{Kind: KindByFileTest, TestFile: "a", TestName: "bc"}
	if x.SameContent(y) {
		t.Error("field boundaries collided")
	}
}

func TestRequest_Retry(t *testing.T) {
	req := Request{Kind: KindAllTests, Args: []string{"--ci"}}
	retry := req.Retry("proc-1")

	if retry.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", retry.Attempt)
	}
	if retry.ParentProcessID != "proc-1" {
		t.Errorf("ParentProcessID = %q, want proc-1", retry.ParentProcessID)
	}
	if err := retry.Validate(); err != nil {
		t.Errorf("retry request invalid: %v", err)
	}

	retry.Args[0] = "mutated"
	if req.Args[0] != "--ci" {
		t.Error("Retry must not share slices with the original")
	}
}

func TestRequest_DeriveSnapshotUpdate(t *testing.T) {
	base := Request{Kind: KindByFileTest, TestFile: "/a.js", TestName: "renders"}
	req := Request{Kind: KindUpdateSnapshot, Base: &base}

	got, err := req.DeriveSnapshotUpdate()
	if err != nil {
		t.Fatalf("DeriveSnapshotUpdate() error = %v", err)
	}
	if got.Kind != KindByFileTest || !got.UpdateSnapshot {
		t.Errorf("derived = %+v, want by-file-test with snapshot flag", got)
	}
	if base.UpdateSnapshot {
		t.Error("base request was mutated")
	}

	plain := Request{Kind: KindAllTests}
	same, err := plain.DeriveSnapshotUpdate()
	if err != nil || same.Kind != KindAllTests || same.UpdateSnapshot {
		t.Errorf("non-snapshot request changed: %+v, %v", same, err)
	}
}

func TestRequest_String(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Kind: KindAllTests}, "all-tests"},
		{Request{Kind: KindByFile, TestFile: "/a.js"}, "by-file /a.js"},
		{Request{Kind: KindByFileTest, TestFile: "/a.js", TestName: "x"}, `by-file-test /a.js "x"`},
		{Request{Kind: KindByFilePattern, FilePattern: "src"}, "by-file-pattern src"},
		{Request{Kind: KindAllTests, UpdateSnapshot: true}, "all-tests +snapshot"},
	}
	for _, tt := range tests {
		if got := tt.req.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRequestKind_IsWatch(t *testing.T) {
	for _, k := range AllKinds() {
		want := k == KindWatchTests || k == KindWatchAllTests
		if got := k.IsWatch(); got != want {
			t.Errorf("%s.IsWatch() = %v, want %v", k, got, want)
		}
	}
	if !KindNotTest.IsValid() {
		t.Error("not-test should be a valid internal kind")
	}
}
