package document

import (
	"strings"
	"testing"
)

func heading(level int, title string) Block {
	return Block{
		Type:    "heading",
		Attrs:   &Attrs{Level: level},
		Content: []Block{{Type: "text", Text: title}},
	}
}

func paragraph(text string) Block {
	return Block{
		Type:    "paragraph",
		Content: []Block{{Type: "text", Text: text}},
	}
}

func TestSectionize(t *testing.T) {
	t.Run("splits on level-2 headings", func(t *testing.T) {
		doc := &Tree{Content: []Block{
			heading(2, "第一章"),
			paragraph("开头的内容。"),
			paragraph("更多内容。"),
			heading(2, "第二章"),
			paragraph("第二章的内容。"),
		}}

		chapters := Sectionize(doc)
		if len(chapters) != 2 {
			t.Fatalf("expected 2 chapters, got %d", len(chapters))
		}
		if chapters[0].ID != "chapter_1" || chapters[1].ID != "chapter_2" {
			t.Errorf("unexpected ids: %s, %s", chapters[0].ID, chapters[1].ID)
		}
		if chapters[0].Title != "第一章" {
			t.Errorf("unexpected title: %s", chapters[0].Title)
		}
		if chapters[0].Text != "开头的内容。\n更多内容。" {
			t.Errorf("unexpected text: %q", chapters[0].Text)
		}
		if chapters[0].Status != StatusDormant {
			t.Errorf("new chapters must start dormant, got %s", chapters[0].Status)
		}
	})

	t.Run("preamble before first heading is discarded", func(t *testing.T) {
		doc := &Tree{Content: []Block{
			paragraph("前言，不属于任何章节。"),
			heading(2, "正文"),
			paragraph("正文内容。"),
		}}

		chapters := Sectionize(doc)
		if len(chapters) != 1 {
			t.Fatalf("expected 1 chapter, got %d", len(chapters))
		}
		if strings.Contains(chapters[0].Text, "前言") {
			t.Errorf("preamble leaked into chapter text: %q", chapters[0].Text)
		}
	})

	t.Run("empty heading becomes untitled", func(t *testing.T) {
		doc := &Tree{Content: []Block{
			{Type: "heading", Attrs: &Attrs{Level: 2}},
			paragraph("内容。"),
		}}

		chapters := Sectionize(doc)
		if len(chapters) != 1 || chapters[0].Title != "无标题" {
			t.Fatalf("expected untitled chapter, got %+v", chapters)
		}
	})

	t.Run("level-3 headings are plain content", func(t *testing.T) {
		doc := &Tree{Content: []Block{
			heading(2, "章"),
			heading(3, "小节"),
			paragraph("内容。"),
		}}

		chapters := Sectionize(doc)
		if len(chapters) != 1 {
			t.Fatalf("expected 1 chapter, got %d", len(chapters))
		}
		if !strings.Contains(chapters[0].Text, "小节") {
			t.Errorf("level-3 heading text missing from chapter: %q", chapters[0].Text)
		}
	})

	t.Run("ids are positional across structural edits", func(t *testing.T) {
		before := &Tree{Content: []Block{
			heading(2, "甲"), paragraph("甲的内容。"),
			heading(2, "乙"), paragraph("乙的内容。"),
		}}
		after := &Tree{Content: []Block{
			heading(2, "新章"), paragraph("新章内容。"),
			heading(2, "甲"), paragraph("甲的内容。"),
			heading(2, "乙"), paragraph("乙的内容。"),
		}}

		a := Sectionize(before)
		b := Sectionize(after)
		// 甲 moved from position 1 to position 2 and its id moved with it;
		// only the hash still identifies the content.
		if b[1].ID != "chapter_2" {
			t.Errorf("expected positional id chapter_2, got %s", b[1].ID)
		}
		if a[0].ContentHash != b[1].ContentHash {
			t.Errorf("hash should follow content across reorders")
		}
	})

	t.Run("nil and empty trees yield no chapters", func(t *testing.T) {
		if got := Sectionize(nil); got != nil {
			t.Errorf("nil tree: expected nil, got %v", got)
		}
		if got := Sectionize(&Tree{}); got != nil {
			t.Errorf("empty tree: expected nil, got %v", got)
		}
	})
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"han counts per rune", "知识图谱", 4},
		{"latin counts per run", "hello world", 2},
		{"mixed scripts", "用Go写的tool", 5},
		{"digits and apostrophes", "it's 2024", 2},
		{"punctuation ignored", "一，二。三！", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWords(tt.text); got != tt.want {
				t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestHash(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Error("hash must be deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Error("different content must hash differently")
	}
	// djb2 of empty input is the seed.
	if got := Hash(""); got != "1505" {
		t.Errorf("Hash(\"\") = %s, want 1505", got)
	}
}
