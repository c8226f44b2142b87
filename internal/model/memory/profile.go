package memory

import (
	"encoding/json"
	"strings"
)

// UnknownValue 字段缺失时在提示词中使用的占位符。
const UnknownValue = "Unknown"

// UserProfile is the long-term memory kept for one user.
type UserProfile struct {
	Name      string   `json:"user_name"`
	Location  string   `json:"user_location"`
	Interests []string `json:"interests"`
}

// ProfileSchema is the JSON schema the language model is asked to fill when
// it extracts an updated profile.
var ProfileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "user_name": {"type": "string", "description": "The user's preferred name"},
    "user_location": {"type": "string", "description": "The user's location"},
    "interests": {"type": "array", "items": {"type": "string"}, "description": "A list of the user's interests"}
  },
  "required": ["user_name", "user_location", "interests"],
  "additionalProperties": false
}`)

// Normalize turns Interests into an ordered set. Duplicates are exact
// matches; values are stored as given.
func (p *UserProfile) Normalize() {
	if p == nil || p.Interests == nil {
		return
	}

	seen := make(map[string]struct{}, len(p.Interests))
	interests := make([]string, 0, len(p.Interests))
	for _, interest := range p.Interests {
		if _, ok := seen[interest]; ok {
			continue
		}
		seen[interest] = struct{}{}
		interests = append(interests, interest)
	}
	p.Interests = interests
}

// Format renders the profile as the memory text embedded in prompts.
// A nil profile renders with placeholders.
func Format(p *UserProfile) string {
	name, location := UnknownValue, UnknownValue
	var interests []string
	if p != nil {
		if p.Name != "" {
			name = p.Name
		}
		if p.Location != "" {
			location = p.Location
		}
		interests = p.Interests
	}

	var b strings.Builder
	b.WriteString("Name: ")
	b.WriteString(name)
	b.WriteString("\nLocation: ")
	b.WriteString(location)
	b.WriteString("\nInterests: ")
	b.WriteString(strings.Join(interests, ", "))
	return b.String()
}
