package pipeline

import (
	"context"
	"testing"
)

func TestStaticDecomposerFirstKeywordWins(t *testing.T) {
	d := &StaticDecomposer{
		Confidence: 0.8,
		Rules: []Rule{
			{Keyword: "report", Tasks: []Task{{Capability: "writing", Description: "write the report"}}, Summary: "reporting"},
			{Keyword: "write", Tasks: []Task{{Capability: "writing", Description: "write something"}}, Summary: "writing"},
		},
	}

	res, err := d.Decompose(context.Background(), "Please WRITE the quarterly REPORT", "")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected a match")
	}
	if res.Summary != "reporting" {
		t.Errorf("summary = %q, first rule must win", res.Summary)
	}
	if res.Confidence != 0.8 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}

func TestStaticDecomposerNoMatch(t *testing.T) {
	d := &StaticDecomposer{Rules: []Rule{{Keyword: "report"}}}
	res, err := d.Decompose(context.Background(), "unrelated", "")
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("no keyword matched, result = %+v", res)
	}
}

func TestParseResult(t *testing.T) {
	raw := "```json\n{\"tasks\":[{\"capability\":\"writing\",\"description\":\"draft\",\"authority_tier\":\"autonomous\"}],\"summary\":\"one task\",\"confidence\":0.85}\n```"
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].Capability != "writing" {
		t.Errorf("tasks = %+v", res.Tasks)
	}
	if res.Confidence != 0.85 {
		t.Errorf("confidence = %v", res.Confidence)
	}

	if res, err := ParseResult("   "); err != nil || res != nil {
		t.Errorf("blank answer should parse to nothing, got %+v, %v", res, err)
	}
	if _, err := ParseResult("not json"); err == nil {
		t.Error("malformed answer should error")
	}
}

func TestNoopContextProvider(t *testing.T) {
	snippets, err := NoopContextProvider{}.Query(context.Background(), ContextQuery{Keywords: []string{"x"}})
	if err != nil || snippets != nil {
		t.Errorf("noop provider returned %v, %v", snippets, err)
	}
}
