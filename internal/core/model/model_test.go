package model

import "testing"

func TestCRSURN(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"epsg code", "EPSG:2154", "urn:ogc:def:crs:EPSG::2154"},
		{"lowercase", "epsg:4326", "urn:ogc:def:crs:EPSG::4326"},
		{"already urn", "urn:ogc:def:crs:EPSG::2154", "urn:ogc:def:crs:EPSG::2154"},
		{"unknown passes through", "CRS:84", "CRS:84"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CRSURN(tc.in); got != tc.want {
				t.Fatalf("CRSURN(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBBoxString(t *testing.T) {
	bb := BBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4, SRID: "EPSG:2154"}
	want := "1.000000,2.000000,3.000000,4.000000,urn:ogc:def:crs:EPSG::2154"
	if got := bb.String(); got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
}

func TestBBoxExpand(t *testing.T) {
	var bb BBox
	if !bb.IsZero() {
		t.Fatal("zero value should be zero")
	}
	bb.Expand(5, -3)
	bb.Expand(-1, 7)
	if bb.XMin != -1 || bb.YMin != -3 || bb.XMax != 5 || bb.YMax != 7 {
		t.Fatalf("unexpected box after expand: %+v", bb)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"download-all", DownloadAll, false},
		{"all", DownloadAll, false},
		{"", DownloadAll, false},
		{"merge-all", MergeAll, false},
		{"MERGE", MergeAll, false},
		{"most-coverage", MostCoverage, false},
		{"coverage", MostCoverage, false},
		{"bogus", DownloadAll, true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseStrategy(%q) err=%v wantErr=%v", tc.in, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("ParseStrategy(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestRunStatusString(t *testing.T) {
	if StatusEmpty.String() != "empty" || StatusAborted.String() != "aborted" {
		t.Fatal("unexpected status strings")
	}
}
