package notion

import (
	"strings"

	"github.com/tidwall/sjson"

	"github.com/mschirtzinger/issuesync/internal/types"
)

const (
	// maxTextLength is Notion's limit on the content of one text object.
	maxTextLength = 2000

	// maxRichTextItems is Notion's limit on the length of a rich_text array.
	maxRichTextItems = 100
)

// propertiesJSON renders the fixed property schema as a Notion properties
// object.
func (c *Client) propertiesJSON(p types.Properties) (string, error) {
	doc := `{}`
	var err error
	set := func(name, typ string, value interface{}) {
		if err != nil {
			return
		}
		doc, err = sjson.Set(doc, escapePath(name)+"."+typ, value)
	}

	set(types.PropName, "title", richText(p.Name))
	set(types.PropIssueNumber, "number", p.IssueNumber)
	set(types.PropState, "select", selectOption(string(p.State)))
	set(types.PropCommentCount, "number", p.CommentCount)
	set(types.PropIssueURL, "url", p.IssueURL)
	set(types.PropRepository, "select", selectOption(p.Repository))

	if c.extended {
		set(types.PropMilestone, "select", optionalSelect(p.Milestone))
		set(types.PropStatus, "select", optionalSelect(p.Status))
		if p.PullRequest != nil {
			set(types.PropPullRequest, "url", *p.PullRequest)
		} else {
			set(types.PropPullRequest, "url", nil)
		}
	}

	return doc, err
}

// propertyPath is the gjson path of a named property inside a page object.
func propertyPath(name string) string {
	return "properties." + escapePath(name)
}

// escapePath escapes gjson/sjson path metacharacters in a property name.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// selectOption builds a select value. Notion rejects commas in option names.
func selectOption(name string) map[string]string {
	return map[string]string{"name": strings.ReplaceAll(name, ",", " ")}
}

// optionalSelect returns nil, which clears the property, for an absent value.
func optionalSelect(name *string) interface{} {
	if name == nil || *name == "" {
		return nil
	}
	return selectOption(*name)
}

// richText splits text into text objects within Notion's length limit.
// Text beyond the item limit is dropped. Empty text yields an empty array.
func richText(text string) []map[string]interface{} {
	items := []map[string]interface{}{}
	runes := []rune(text)
	for start := 0; start < len(runes) && len(items) < maxRichTextItems; start += maxTextLength {
		end := min(start+maxTextLength, len(runes))
		items = append(items, map[string]interface{}{
			"type": "text",
			"text": map[string]string{"content": string(runes[start:end])},
		})
	}
	return items
}

// paragraphBlock is a child block holding text.
func paragraphBlock(text string) map[string]interface{} {
	return map[string]interface{}{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]interface{}{
			"rich_text": richText(text),
		},
	}
}
