package directive

import (
	"encoding/base64"
	"strings"
	"testing"
)

// --- Parse: write_file ---

func TestParse_WriteFile(t *testing.T) {
	text := "I'll create the config.\n<write_file path=\"/etc/app.conf\">\n  key = value\n  other = 1\n</write_file>\nDone."
	d := Parse(text)

	if d.Kind != WriteFile {
		t.Fatalf("Kind = %v, want %v", d.Kind, WriteFile)
	}
	if d.Path != "/etc/app.conf" {
		t.Errorf("Path = %q, want %q", d.Path, "/etc/app.conf")
	}
	if d.Content != "key = value\n  other = 1" {
		t.Errorf("Content = %q, want inner indentation preserved", d.Content)
	}
}

func TestParse_WriteFileWinsOverRun(t *testing.T) {
	text := "<run>ls</run>\n<write_file path=\"/tmp/x\">data</write_file>"
	d := Parse(text)
	if d.Kind != WriteFile {
		t.Fatalf("Kind = %v, want %v", d.Kind, WriteFile)
	}
	if d.Path != "/tmp/x" || d.Content != "data" {
		t.Errorf("got path=%q content=%q", d.Path, d.Content)
	}
}

func TestParse_WriteFileBodyVerbatim(t *testing.T) {
	body := "#!/bin/sh\necho \"$HOME\" `date` <tag> </run>\n\ttabbed"
	d := Parse("<write_file path=\"/opt/run.sh\">\n" + body + "\n</write_file>")
	if d.Kind != WriteFile {
		t.Fatalf("Kind = %v, want %v", d.Kind, WriteFile)
	}
	if d.Content != body {
		t.Errorf("Content = %q, want %q", d.Content, body)
	}
}

func TestParse_WriteFileMissingPathFallsThrough(t *testing.T) {
	d := Parse("<write_file>oops</write_file> then <run>pwd</run>")
	if d.Kind != RunCommand || d.Command != "pwd" {
		t.Errorf("got %+v, want RunCommand pwd", d)
	}
}

// --- Parse: commands ---

func TestParse_RunTag(t *testing.T) {
	d := Parse("Let's look.\n<run>\n  ls -la /tmp  \n</run>")
	if d.Kind != RunCommand {
		t.Fatalf("Kind = %v, want %v", d.Kind, RunCommand)
	}
	if d.Command != "ls -la /tmp" {
		t.Errorf("Command = %q, want %q", d.Command, "ls -la /tmp")
	}
}

func TestParse_EmptyRunMeansEnter(t *testing.T) {
	d := Parse("Press enter: <run></run>")
	if d.Kind != RunCommand {
		t.Fatalf("Kind = %v, want %v", d.Kind, RunCommand)
	}
	if d.Command != "" {
		t.Errorf("Command = %q, want empty", d.Command)
	}
	if string(d.Payload()) != "\n" {
		t.Errorf("Payload = %q, want newline only", d.Payload())
	}
}

func TestParse_CommandMarkers(t *testing.T) {
	d := Parse("@@@COMMAND@@@ uptime @@@END@@@")
	if d.Kind != RunCommand || d.Command != "uptime" {
		t.Errorf("got %+v, want RunCommand uptime", d)
	}
}

func TestParse_BashFence(t *testing.T) {
	d := Parse("Try:\n```bash\ndf -h\n```\n")
	if d.Kind != RunCommand || d.Command != "df -h" {
		t.Errorf("got %+v, want RunCommand df -h", d)
	}
}

func TestParse_RunTagPreferredOverFence(t *testing.T) {
	d := Parse("```bash\nwhoami\n```\nactually <run>id</run>")
	if d.Command != "id" {
		t.Errorf("Command = %q, want %q (run tag tried first)", d.Command, "id")
	}
}

func TestParse_FirstRunOnly(t *testing.T) {
	d := Parse("<run>first</run> and <run>second</run>")
	if d.Command != "first" {
		t.Errorf("Command = %q, want %q", d.Command, "first")
	}
}

func TestParse_None(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain answer", "The disk is 40% full. Nothing else to do."},
		{"unterminated run", "<run>rm -rf /tmp/cache"},
		{"inline code", "You could run `ls -la` yourself."},
		{"other fence language", "```python\nprint(1)\n```"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(tt.text)
			if d.Kind != None {
				t.Errorf("Kind = %v, want None (%+v)", d.Kind, d)
			}
			if d.Actionable() {
				t.Error("Actionable() = true, want false")
			}
		})
	}
}

// --- Payload / Describe ---

func TestPayload_RunCommand(t *testing.T) {
	d := Directive{Kind: RunCommand, Command: "systemctl status nginx"}
	if got := string(d.Payload()); got != "systemctl status nginx\n" {
		t.Errorf("Payload = %q", got)
	}
}

func TestPayload_WriteFile(t *testing.T) {
	d := Directive{Kind: WriteFile, Path: "/tmp/a.txt", Content: "hello"}
	want := `echo "aGVsbG8=" | base64 -d > '/tmp/a.txt' && echo 'File written to /tmp/a.txt'` + "\n"
	if got := string(d.Payload()); got != want {
		t.Errorf("Payload = %q, want %q", got, want)
	}
}

func TestPayload_WriteFileQuotesPath(t *testing.T) {
	d := Directive{Kind: WriteFile, Path: "/tmp/it's $HOME", Content: "x"}
	got := string(d.Payload())
	if !strings.Contains(got, `> '/tmp/it'\''s $HOME'`) {
		t.Errorf("Payload = %q, want single-quoted path", got)
	}
}

func TestPayload_WriteFileUTF8RoundTrip(t *testing.T) {
	content := "配置文件\nline two"
	d := Directive{Kind: WriteFile, Path: "/tmp/u", Content: content}
	got := string(d.Payload())
	start := strings.Index(got, `"`) + 1
	end := strings.Index(got[start:], `"`) + start
	decoded, err := base64.StdEncoding.DecodeString(got[start:end])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != content {
		t.Errorf("decoded = %q, want %q", decoded, content)
	}
}

func TestPayload_None(t *testing.T) {
	if p := (Directive{}).Payload(); p != nil {
		t.Errorf("Payload = %q, want nil", p)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		d    Directive
		want string
	}{
		{Directive{Kind: RunCommand, Command: "ls"}, "ls"},
		{Directive{Kind: RunCommand}, "(Sending Enter)"},
		{Directive{Kind: WriteFile, Path: "/a"}, "Writing file: /a"},
		{Directive{}, ""},
	}
	for _, tt := range tests {
		if got := tt.d.Describe(); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

// --- Split ---

func TestSplit(t *testing.T) {
	text := "Checking.\n<run>ls</run>\nthen\n<write_file path=\"/x\">\nbody\n</write_file>"
	segs := Split(text)
	if len(segs) != 4 {
		t.Fatalf("len(segs) = %d, want 4: %+v", len(segs), segs)
	}
	if segs[0].Type != SegmentText || segs[0].Content != "Checking.\n" {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if segs[1].Type != SegmentCommand || segs[1].Content != "ls" {
		t.Errorf("segs[1] = %+v", segs[1])
	}
	if segs[2].Type != SegmentText {
		t.Errorf("segs[2] = %+v", segs[2])
	}
	if segs[3].Type != SegmentFile || segs[3].Path != "/x" || segs[3].Content != "body" {
		t.Errorf("segs[3] = %+v", segs[3])
	}
}

func TestSplit_PlainText(t *testing.T) {
	segs := Split("just words")
	if len(segs) != 1 || segs[0].Type != SegmentText {
		t.Errorf("segs = %+v, want single text segment", segs)
	}
}

func TestSplit_DropsBlankGaps(t *testing.T) {
	segs := Split("<run>a</run>\n\n<run>b</run>")
	if len(segs) != 2 {
		t.Errorf("len(segs) = %d, want 2: %+v", len(segs), segs)
	}
}
