package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transitsql/internal/infer"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunMain_JSONWithDDL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stops.txt", "stop_id,stop_lat,stop_code\nS1,1.5,10\nS2,2,11\n")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-json", "-ddl", "-kind", "postgres", "-schema", "gtfs", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}

	var got []tableReport
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if len(got) != 1 {
		t.Fatalf("reports=%d, want 1", len(got))
	}
	r := got[0]
	if r.Table != "stops" || r.Rows != 2 {
		t.Fatalf("report=%+v", r)
	}
	want := []infer.ColumnType{infer.Text, infer.Real, infer.Integer}
	for i, c := range r.Columns {
		if c.Type != want[i] {
			t.Fatalf("column %s type=%v, want %v", c.Name, c.Type, want[i])
		}
	}
	if !strings.Contains(r.DDL, `CREATE TABLE "gtfs"."stops"`) || !strings.Contains(r.DDL, `"stop_lat" DOUBLE PRECISION`) {
		t.Fatalf("ddl=%s", r.DDL)
	}
}

func TestRunMain_TextReportAndFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "id\n1\n")
	writeFile(t, dir, "b.csv", "id,name\n1\n")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{dir}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "TABLE") || !strings.Contains(out, "INTEGER") {
		t.Fatalf("stdout=%q", out)
	}
	if !strings.Contains(out, "error:") {
		t.Fatalf("stdout=%q, want the failing source reported", out)
	}
}

func TestRunMain_Mapping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gps_export.csv", "bus_id,speed\nB1,12.5\n")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-json", "-map", "gps=gps_export.csv, buses=missing.csv", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	var got []tableReport
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Table != "gps" {
		t.Fatalf("reports=%+v", got)
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no_input", args: nil, want: "usage: probe"},
		{name: "bad_kind", args: []string{"-kind", "oracle", "x"}, want: "unknown dialect"},
		{name: "bad_map", args: []string{"-map", "nofile", "x"}, want: "-map:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runMain(context.Background(), tc.args, &stdout, &stderr); code != 2 {
				t.Fatalf("exit code=%d, want 2", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.want)
			}
		})
	}
}
