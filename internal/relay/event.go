// Package relay turns inbound chat events into webhook payloads.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/delivery"
)

// UnknownChannel is rendered when an event carries no channel.
const UnknownChannel = "未知"

var (
	ErrInvalidJSON     = errors.New("relay: invalid json")
	ErrMissingRequired = errors.New("relay: missing required field")
)

// Text is a JSON string that also accepts numbers and booleans, rendered
// verbatim. null, absent, zero and false all decode to "" so they count as
// missing.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("relay: expected scalar, got %s", b[:1])
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			if f, err := n.Float64(); err == nil && f == 0 {
				*t = ""
			} else {
				*t = Text(n.String())
			}
			return nil
		}
		v, err := strconv.ParseBool(string(b))
		if err != nil {
			return err
		}
		if v {
			*t = "true"
		} else {
			*t = ""
		}
	}
	return nil
}

// Event is one inbound chat message.
type Event struct {
	ProfileCode Text `json:"ProfileCode"`
	Nickname    Text `json:"Nickname"`
	Text        Text `json:"Text"`
	Channel     Text `json:"Channel"`
	Timestamp   Text `json:"timestamp"`
}

// Parse decodes raw into an Event. Only malformed JSON is an error here;
// use Validate for required fields.
func Parse(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return ev, nil
}

// Validate reports ErrMissingRequired when ProfileCode, Nickname or Text is empty.
func (e Event) Validate() error {
	var missing []string
	if e.ProfileCode == "" {
		missing = append(missing, "ProfileCode")
	}
	if e.Nickname == "" {
		missing = append(missing, "Nickname")
	}
	if e.Text == "" {
		missing = append(missing, "Text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingRequired, missing)
	}
	return nil
}

// Username is the sink display name, "Nickname#ProfileCode".
func (e Event) Username() string {
	return string(e.Nickname) + "#" + string(e.ProfileCode)
}

// Content renders the three-line message body. now supplies the timestamp
// when the event carries none.
func (e Event) Content(now time.Time) string {
	ch := string(e.Channel)
	if ch == "" {
		ch = UnknownChannel
	}
	ts := string(e.Timestamp)
	if ts == "" {
		ts = FormatTimestamp(now)
	}
	return "頻道: " + ch + "\n內容: " + string(e.Text) + "\n時間: " + ts
}

// Payload builds the sink payload. avatar may be empty.
func (e Event) Payload(avatar string, now time.Time) delivery.Payload {
	return delivery.Payload{
		Username:  e.Username(),
		AvatarURL: avatar,
		Content:   e.Content(now),
	}
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
