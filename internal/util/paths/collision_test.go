package paths

import "testing"

func TestJoinSplit(t *testing.T) {
	cases := []struct {
		parent, name, want string
	}{
		{"/", "a.txt", "/a.txt"},
		{"/dir", "a.txt", "/dir/a.txt"},
		{"/dir/", "a.txt", "/dir/a.txt"},
	}
	for _, c := range cases {
		if got := Join(c.parent, c.name); got != c.want {
			t.Errorf("Join(%q,%q) = %q, want %q", c.parent, c.name, got, c.want)
		}
	}

	splitCases := []struct {
		path, wantParent, wantName string
	}{
		{"/", "/", ""},
		{"/a.txt", "/", "a.txt"},
		{"/dir/a.txt", "/dir", "a.txt"},
		{"/dir/sub/a.txt", "/dir/sub", "a.txt"},
	}
	for _, c := range splitCases {
		gotParent, gotName := Split(c.path)
		if gotParent != c.wantParent || gotName != c.wantName {
			t.Errorf("Split(%q) = (%q,%q), want (%q,%q)", c.path, gotParent, gotName, c.wantParent, c.wantName)
		}
	}
}

func TestUnusedName_NoCollision(t *testing.T) {
	taken := map[string]bool{"other.zip": true}
	if got := UnusedName(taken, "output.zip"); got != "output.zip" {
		t.Errorf("expected output.zip, got %s", got)
	}
}

func TestUnusedName_SingleCollision(t *testing.T) {
	taken := map[string]bool{"output.zip": true}
	if got := UnusedName(taken, "output.zip"); got != "output (1).zip" {
		t.Errorf("expected 'output (1).zip', got %s", got)
	}
}

func TestUnusedName_MultipleCollisions(t *testing.T) {
	taken := map[string]bool{
		"model.sim":       true,
		"model (1).sim":   true,
		"model (2).sim":   true,
	}
	if got := UnusedName(taken, "model.sim"); got != "model (3).sim" {
		t.Errorf("expected 'model (3).sim', got %s", got)
	}
}

func TestUnusedName_NoExtension(t *testing.T) {
	taken := map[string]bool{"README": true}
	if got := UnusedName(taken, "README"); got != "README (1)" {
		t.Errorf("expected 'README (1)', got %s", got)
	}
}

func TestUnusedName_MultipleDots(t *testing.T) {
	taken := map[string]bool{"data.tar.gz": true}
	if got := UnusedName(taken, "data.tar.gz"); got != "data.tar (1).gz" {
		t.Errorf("expected 'data.tar (1).gz', got %s", got)
	}
}

func TestUnusedName_DotfileHasNoExt(t *testing.T) {
	taken := map[string]bool{".bashrc": true}
	if got := UnusedName(taken, ".bashrc"); got != ".bashrc (1)" {
		t.Errorf("expected '.bashrc (1)', got %s", got)
	}
}
