package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode_PreservesUnknownFields(t *testing.T) {
	raw := `{
		"pullRequestId": 42,
		"createdBy": {"id": "u1", "displayName": "Ana", "imageUrl": "https://img/1"},
		"creationDate": "2024-05-01T10:00:00Z",
		"status": "active",
		"sourceRefName": "refs/heads/feature",
		"targetRefName": "refs/heads/main",
		"repository": {"id": "r1", "name": "web"},
		"mergeStatus": "succeeded"
	}`
	pr, err := Decode[PullRequest]([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pr.ID != 42 || pr.CreatedBy.DisplayName != "Ana" || pr.Status != "active" {
		t.Errorf("Decode() = %+v, unexpected declared fields", pr)
	}
	if got := string(pr.Extra["mergeStatus"]); got != `"succeeded"` {
		t.Errorf("Extra[mergeStatus] = %s, want \"succeeded\"", got)
	}
	if _, ok := pr.CreatedBy.Extra["imageUrl"]; !ok {
		t.Error("nested identity lost imageUrl")
	}

	out, err := json.Marshal(pr)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"repository", "mergeStatus", "pullRequestId", "createdBy"} {
		if _, ok := back[key]; !ok {
			t.Errorf("re-encoded output missing %q: %s", key, out)
		}
	}
	if !strings.Contains(string(back["repository"]), `"name": "web"`) && !strings.Contains(string(back["repository"]), `"name":"web"`) {
		t.Errorf("repository = %s, want original object", back["repository"])
	}
}

func TestDecode_PreservesNestedUnknownFields(t *testing.T) {
	tests := []struct {
		name   string
		decode func([]byte) (any, error)
		raw    string
		want   []string
	}{
		{
			name:   "policy type",
			decode: func(b []byte) (any, error) { return Decode[PolicyEvaluation](b) },
			raw: `{"configuration": {"id": 3, "isBlocking": true,
				"type": {"id": "fa4e", "displayName": "Build", "url": "https://x/type"}},
				"status": "approved"}`,
			want: []string{`"url":"https://x/type"`, `"isBlocking":true`},
		},
		{
			name:   "field change",
			decode: func(b []byte) (any, error) { return Decode[WorkItemUpdate](b) },
			raw: `{"revisedDate": "2024-03-01T00:00:00Z",
				"fields": {"System.State": {"oldValue": "New", "newValue": "Active", "source": "rule"}}}`,
			want: []string{`"source":"rule"`, `"newValue":"Active"`},
		},
		{
			name:   "query reference",
			decode: func(b []byte) (any, error) { return Decode[QueryResult](b) },
			raw:    `{"workItems": [{"id": 4, "url": "u4", "rank": 9}], "queryType": "flat"}`,
			want:   []string{`"rank":9`, `"queryType":"flat"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			out, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(out), want) {
					t.Errorf("re-encoded = %s, missing %s", out, want)
				}
			}
		})
	}
}

func TestDecode_MissingRequiredField(t *testing.T) {
	tests := []struct {
		name      string
		decode    func([]byte) error
		raw       string
		wantField string
	}{
		{
			name:      "work item without fields",
			decode:    func(b []byte) error { _, err := Decode[WorkItem](b); return err },
			raw:       `{"id": 1}`,
			wantField: "fields",
		},
		{
			name:      "pull request with null status",
			decode:    func(b []byte) error { _, err := Decode[PullRequest](b); return err },
			raw:       `{"pullRequestId": 1, "createdBy": {}, "creationDate": "x", "status": null, "sourceRefName": "a", "targetRefName": "b"}`,
			wantField: "status",
		},
		{
			name:      "reviewer without vote",
			decode:    func(b []byte) error { _, err := Decode[PRReviewer](b); return err },
			raw:       `{"id": "r", "displayName": "R"}`,
			wantField: "vote",
		},
		{
			name:      "update without revisedDate",
			decode:    func(b []byte) error { _, err := Decode[WorkItemUpdate](b); return err },
			raw:       `{"id": 3, "fields": {}}`,
			wantField: "revisedDate",
		},
		{
			name:      "policy evaluation with unnamed type",
			decode:    func(b []byte) error { _, err := Decode[PolicyEvaluation](b); return err },
			raw:       `{"configuration": {"type": {}}, "status": "approved"}`,
			wantField: "displayName",
		},
		{
			name:      "query result with id-less reference",
			decode:    func(b []byte) error { _, err := Decode[QueryResult](b); return err },
			raw:       `{"workItems": [{"url": "u"}]}`,
			wantField: "id",
		},
		{
			name:      "graph user without any identifier",
			decode:    func(b []byte) error { _, err := Decode[GraphUser](b); return err },
			raw:       `{"displayName": "Nobody"}`,
			wantField: "descriptor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode([]byte(tt.raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestDecode_WrongType(t *testing.T) {
	_, err := Decode[PRIteration]([]byte(`{"id": "seven", "createdDate": "2024-01-01T00:00:00Z"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if verr.Field != "id" {
		t.Errorf("Field = %q, want id", verr.Field)
	}
}

func TestDecode_NotAnObject(t *testing.T) {
	for _, raw := range []string{`null`, `[]`, `"text"`, `3`} {
		_, err := Decode[PRThread]([]byte(raw))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Decode(%s) error = %v, want *ValidationError", raw, err)
		}
	}
}

func TestDecodeList_Shapes(t *testing.T) {
	item := `{"id": 1, "createdDate": "2024-01-01T00:00:00Z"}`
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "wrapped", raw: `{"value": [` + item + `,` + item + `], "count": 2}`, want: 2},
		{name: "bare array", raw: `[` + item + `]`, want: 1},
		{name: "empty wrapped", raw: `{"value": []}`, want: 0},
		{name: "object without value", raw: `{"count": 0}`, wantErr: true},
		{name: "scalar", raw: `17`, wantErr: true},
		{name: "bad element", raw: `[` + item + `, {"id": 2}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeList[PRIteration]([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDecodeSparseList_DropsNulls(t *testing.T) {
	raw := `{"value": [{"id": 1, "fields": {}}, null, {"id": 3, "fields": {}}]}`
	got, err := DecodeSparseList[WorkItem]([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeSparseList() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("DecodeSparseList() = %+v, want ids 1 and 3", got)
	}

	if _, err := DecodeList[WorkItem]([]byte(raw)); err == nil {
		t.Error("DecodeList() accepted a null element")
	}
	_, err = DecodeSparseList[WorkItem]([]byte(`[null, {"id": 2}]`))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "[1].fields" {
		t.Errorf("error = %v, want ValidationError on [1].fields", err)
	}
}

func TestDecodeList_ReportsIndex(t *testing.T) {
	_, err := DecodeList[PRReviewer]([]byte(`[{"id":"a","displayName":"A","vote":0},{"id":"b","vote":10}]`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if verr.Field != "[1].displayName" {
		t.Errorf("Field = %q, want [1].displayName", verr.Field)
	}
}

func TestAreaNode_Recursive(t *testing.T) {
	raw := `{"name": "Root", "children": [
		{"name": "Web", "children": [{"name": "Checkout", "structureType": "area"}]},
		{"name": "Mobile"}
	]}`
	root, err := Decode[AreaNode]([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if root.Depth() != 3 {
		t.Errorf("Depth() = %d, want 3", root.Depth())
	}
	var names []string
	root.Walk(func(n AreaNode) { names = append(names, n.Name) })
	if got := strings.Join(names, ","); got != "Root,Web,Checkout,Mobile" {
		t.Errorf("Walk order = %s", got)
	}
	if _, ok := root.Children[0].Children[0].Extra["structureType"]; !ok {
		t.Error("leaf lost structureType")
	}
}

func TestAreaNode_TooDeep(t *testing.T) {
	raw := `{"name":"leaf"}`
	for range MaxAreaDepth + 1 {
		raw = `{"name":"n","children":[` + raw + `]}`
	}
	if _, err := Decode[AreaNode]([]byte(raw)); err == nil {
		t.Error("Decode() of an over-deep tree succeeded, want error")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: "Active", want: "Active"},
		{in: map[string]any{"displayName": "Ana", "uniqueName": "ana@x"}, want: "Ana"},
		{in: map[string]any{"uniqueName": "ana@x"}, want: "ana@x"},
		{in: float64(3), want: "3"},
		{in: 2.5, want: "2.5"},
		{in: true, want: "true"},
	}
	for _, tt := range tests {
		if got := ValueString(tt.in); got != tt.want {
			t.Errorf("ValueString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{in: "2024-05-01T10:00:00Z", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "2024-05-01T10:00:00.1234567Z", want: time.Date(2024, 5, 1, 10, 0, 0, 123456700, time.UTC), wantOK: true},
		{in: "2024-05-01T12:00:00+02:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "2024-05-01T10:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "", wantOK: false},
		{in: "yesterday", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParseTime(tt.in)
		if ok != tt.wantOK || !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPullRequest_Draft(t *testing.T) {
	yes := true
	if (PullRequest{}).Draft() {
		t.Error("Draft() with nil flag = true")
	}
	if !(PullRequest{IsDraft: &yes}).Draft() {
		t.Error("Draft() with true flag = false")
	}
}
