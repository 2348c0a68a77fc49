package feed

import (
	"testing"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <description>Test Description</description>
    <language>EN-us</language>
    <image>
      <url>https://example.com/icon.png</url>
      <title>Test Feed</title>
      <link>https://example.com</link>
    </image>
    <item>
      <title>Test Item 1</title>
      <link>https://example.com/item1</link>
      <description>Test Item 1 Description</description>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <author>test@example.com (Test Author)</author>
      <category>Technology</category>
      <category>Programming</category>
    </item>
    <item>
      <title>Test Item 2</title>
      <link>https://example.com/item2</link>
      <description>Test Item 2 Description</description>
      <pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "Test Feed" {
		t.Errorf("Expected title 'Test Feed', got: %s", metadata.Title)
	}
	if metadata.Language != "en-US" {
		t.Errorf("Expected normalized language 'en-US', got: %s", metadata.Language)
	}
	if metadata.ImageURL != "https://example.com/icon.png" {
		t.Errorf("Expected image URL, got: %s", metadata.ImageURL)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(items))
	}

	item1 := items[0]
	if item1.GUID != "item-1" {
		t.Errorf("Expected GUID 'item-1', got: %s", item1.GUID)
	}
	if len(item1.Categories) != 2 {
		t.Errorf("Expected 2 categories, got: %d", len(item1.Categories))
	}
	if item1.ContentHash == "" {
		t.Error("Expected a content hash to be generated")
	}

	// GUID falls back to the link when absent
	item2 := items[1]
	if item2.GUID != "https://example.com/item2" {
		t.Errorf("Expected GUID to fall back to link, got: %s", item2.GUID)
	}
}

func TestParseAtom(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <link href="https://example.org/"/>
  <updated>2023-07-03T12:00:00Z</updated>
  <entry>
    <title>Atom Entry</title>
    <link href="https://example.org/entry1"/>
    <id>urn:uuid:entry-1</id>
    <updated>2023-07-03T10:00:00Z</updated>
    <author><name>Atom Author</name><email>atom@example.org</email></author>
    <summary>Entry summary</summary>
  </entry>
</feed>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(atomData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if metadata.Title != "Atom Feed" {
		t.Errorf("Expected title 'Atom Feed', got: %s", metadata.Title)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(items))
	}
	if items[0].GUID != "urn:uuid:entry-1" {
		t.Errorf("Expected atom id as GUID, got: %s", items[0].GUID)
	}
	if len(items[0].Authors) != 1 || items[0].Authors[0] != "atom@example.org (Atom Author)" {
		t.Errorf("Expected formatted author, got: %v", items[0].Authors)
	}
}

func TestParseInvalidData(t *testing.T) {
	parser := NewParser()
	_, _, err := parser.Run([]byte("this is not a feed"))
	if err == nil {
		t.Error("Expected an error for unparseable data")
	}
}

func TestContentHashChangesWithMaterialChange(t *testing.T) {
	parser := NewParser()

	a := Item{Title: "Title", Link: "https://example.com/1", Description: "one"}
	b := Item{Title: "Title", Link: "https://example.com/1", Description: "one"}
	c := Item{Title: "Title", Link: "https://example.com/1", Description: "two"}

	if parser.generateContentHash(a) != parser.generateContentHash(b) {
		t.Error("Identical items should hash identically")
	}
	if parser.generateContentHash(a) == parser.generateContentHash(c) {
		t.Error("A changed description should change the hash")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"en-us":   "en-US",
		"EN":      "en",
		"":        "",
		"not!a!tag": "not!a!tag",
	}

	for input, expected := range cases {
		if got := normalizeLanguage(input); got != expected {
			t.Errorf("normalizeLanguage(%q): expected %q, got %q", input, expected, got)
		}
	}
}
