package passthrough

import "testing"

func TestMapArgsForGit(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{[]string{"branch"}, []string{"branch", "list"}},
		{[]string{"branch", "-a"}, []string{"branch", "list", "-a"}},
		{[]string{"branch", "list"}, []string{"branch", "list"}},
		{[]string{"tag"}, []string{"tag", "list"}},
		{[]string{"status"}, []string{"status"}},
	}
	for _, c := range cases {
		got := mapArgsForGit(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("mapArgsForGit(%v) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("mapArgsForGit(%v) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestHasBranchPrefix(t *testing.T) {
	if !hasBranchPrefix("agtsessions/foo", "agtsessions/") {
		t.Fatal("expected direct prefix match")
	}
	if !hasBranchPrefix("origin/agtsessions/foo", "agtsessions/") {
		t.Fatal("expected remote-qualified match")
	}
	if hasBranchPrefix("main", "agtsessions/") {
		t.Fatal("did not expect match")
	}
}

func TestFilterPrefixedLines(t *testing.T) {
	input := "  main\n* agtsessions/foo\n  feature/x\n+ agtsessions/bar\n"
	got := string(filterPrefixedLines([]byte(input), "agtsessions/", "branch"))
	want := "  main\n  feature/x\n"
	if got != want {
		t.Fatalf("filterPrefixedLines() = %q, want %q", got, want)
	}
}

func TestFilterLogOutput_DropsAgentAuthoredBlocks(t *testing.T) {
	input := "commit aaa\nAuthor: agt <agt@local>\nDate: x\n\n    agt autocommit\n\ncommit bbb\nAuthor: Jane <jane@example.com>\nDate: y\n\n    real work\n\n"
	got := string(filterLogOutput([]byte(input), "agt@local"))
	if want := "aaa"; containsSubstr(got, want) {
		t.Fatalf("expected aaa's commit block to be filtered, got %q", got)
	}
	if !containsSubstr(got, "bbb") {
		t.Fatalf("expected bbb's commit block to survive, got %q", got)
	}
}

func TestHasCustomLogFormat(t *testing.T) {
	if !hasCustomLogFormat([]string{"--oneline"}) {
		t.Fatal("expected --oneline to be detected")
	}
	if !hasCustomLogFormat([]string{"--pretty=format:%H"}) {
		t.Fatal("expected --pretty to be detected")
	}
	if hasCustomLogFormat([]string{"-n", "5"}) {
		t.Fatal("did not expect match")
	}
}

func containsSubstr(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
