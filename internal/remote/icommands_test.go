package remote

import "testing"

func TestSplitIrodsPath(t *testing.T) {
	cases := []struct {
		path           string
		wantCollection string
		wantDataObject string
	}{
		{"/zone/home/alice/foo.txt", "/zone/home/alice", "foo.txt"},
		{"/zone/foo.txt", "/zone", "foo.txt"},
		{"foo.txt", "", "foo.txt"},
	}
	for _, c := range cases {
		collection, dataObject := splitIrodsPath(c.path)
		if collection != c.wantCollection || dataObject != c.wantDataObject {
			t.Errorf("splitIrodsPath(%q) = (%q, %q), want (%q, %q)",
				c.path, collection, dataObject, c.wantCollection, c.wantDataObject)
		}
	}
}
