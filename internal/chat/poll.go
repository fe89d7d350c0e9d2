package chat

import (
	"encoding/json"
	"time"

	"github.com/vntrieu/mixplay/internal/protocol"
)

// PollAnswer is one choice and its current tally.
type PollAnswer struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll is the active vote in a room.
type Poll struct {
	AuthorID    uint32       `json:"author_id"`
	AuthorName  string       `json:"author_name"`
	AuthorLevel int          `json:"author_level"`
	Question    string       `json:"question"`
	Answers     []PollAnswer `json:"answers"`
	Voters      int          `json:"voters"`
	EndsAt      time.Time    `json:"ends_at"`
}

type wireAuthor struct {
	UserName  string  `json:"user_name"`
	UserID    *uint32 `json:"user_id"`
	UserLevel int     `json:"user_level"`
}

type wirePoll struct {
	Q                *string        `json:"q"`
	Answers          []string       `json:"answers"`
	Author           *wireAuthor    `json:"author"`
	Duration         int64          `json:"duration"`
	EndsAt           *int64         `json:"endsAt"`
	Voters           int            `json:"voters"`
	Responses        map[string]int `json:"responses"`
	ResponsesByIndex []int          `json:"responsesByIndex"`
}

// parsePoll decodes a PollStart/PollEnd payload. endsAtMs is the raw server value
// used to match start, update and end events.
func parsePoll(payload json.RawMessage) (poll Poll, endsAtMs int64, err error) {
	var w wirePoll
	if err := protocol.Unmarshal(payload, &w); err != nil {
		return Poll{}, 0, err
	}
	if err := protocol.Require(w.Q != nil, "q"); err != nil {
		return Poll{}, 0, err
	}
	if err := protocol.Require(w.EndsAt != nil, "endsAt"); err != nil {
		return Poll{}, 0, err
	}
	if err := protocol.Require(w.Author != nil && w.Author.UserID != nil, "author.user_id"); err != nil {
		return Poll{}, 0, err
	}
	if err := protocol.Require(len(w.Answers) > 0, "answers"); err != nil {
		return Poll{}, 0, err
	}

	poll = Poll{
		AuthorID:    *w.Author.UserID,
		AuthorName:  w.Author.UserName,
		AuthorLevel: w.Author.UserLevel,
		Question:    *w.Q,
		Voters:      w.Voters,
		EndsAt:      time.UnixMilli(*w.EndsAt).UTC(),
		Answers:     make([]PollAnswer, len(w.Answers)),
	}
	for i, text := range w.Answers {
		poll.Answers[i].Text = text
		switch {
		case i < len(w.ResponsesByIndex):
			poll.Answers[i].Votes = w.ResponsesByIndex[i]
		case w.Responses != nil:
			poll.Answers[i].Votes = w.Responses[text]
		}
	}
	return poll, *w.EndsAt, nil
}

// TotalVotes sums the answer tallies.
func (p Poll) TotalVotes() int {
	n := 0
	for _, a := range p.Answers {
		n += a.Votes
	}
	return n
}
