package providers

import (
	"github.com/tidwall/gjson"
)

// charsPerToken is the usual rule of thumb for English text on
// Claude and GPT tokenizers.
const charsPerToken = 4

// EstimateTokens approximates the prompt size of req from the text in its
// system prompt, messages and tool definitions.
func EstimateTokens(req Request) int {
	doc := gjson.ParseBytes(req.Raw)

	chars := len(contentText(doc.Get("system")))
	doc.Get("messages").ForEach(func(_, m gjson.Result) bool {
		content := m.Get("content")
		chars += len(contentText(content))
		// tool_use inputs are JSON objects, count them verbatim.
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_use" {
				chars += len(block.Get("input").Raw)
			}
			return true
		})
		return true
	})
	if tools := doc.Get("tools"); tools.Exists() {
		chars += len(tools.Raw)
	}

	if chars == 0 {
		return 0
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
