// Package item models Hacker News records and listings.
package item

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Decode for a null record.
	ErrNotFound = errors.New("item not found")

	// ErrUnknownType is returned by Decode for an unrecognised type tag.
	ErrUnknownType = errors.New("unknown item type")
)

// Type is the discriminator carried by every record.
type Type string

const (
	TypeStory      Type = "story"
	TypeJob        Type = "job"
	TypeComment    Type = "comment"
	TypePoll       Type = "poll"
	TypePollOption Type = "pollopt"
)

// Base holds the fields common to every record.
type Base struct {
	ID      int64     `json:"id"`
	By      string    `json:"by,omitempty"`
	Time    time.Time `json:"time"`
	Deleted bool      `json:"deleted,omitempty"`
	Dead    bool      `json:"dead,omitempty"`
}

// Item is one of Story, Job, Comment, Poll or PollOption.
type Item interface {
	Meta() Base
	Type() Type
	sealed()
}

// Root is an Item that can appear on a listing page: Story or Job.
type Root interface {
	Item
	Headline() string
	Points() int
	root()
}

type Story struct {
	Base
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	Text        string  `json:"text,omitempty"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Kids        []int64 `json:"kids,omitempty"`
}

type Job struct {
	Base
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Text  string `json:"text,omitempty"`
	Score int    `json:"score"`
}

type Comment struct {
	Base
	Parent int64   `json:"parent"`
	Text   string  `json:"text,omitempty"`
	Kids   []int64 `json:"kids,omitempty"`
}

type Poll struct {
	Base
	Title       string  `json:"title"`
	Text        string  `json:"text,omitempty"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Parts       []int64 `json:"parts,omitempty"`
	Kids        []int64 `json:"kids,omitempty"`
}

type PollOption struct {
	Base
	Poll  int64  `json:"poll"`
	Text  string `json:"text,omitempty"`
	Score int    `json:"score"`
}

func (s *Story) Meta() Base      { return s.Base }
func (j *Job) Meta() Base        { return j.Base }
func (c *Comment) Meta() Base    { return c.Base }
func (p *Poll) Meta() Base       { return p.Base }
func (o *PollOption) Meta() Base { return o.Base }

func (*Story) Type() Type      { return TypeStory }
func (*Job) Type() Type        { return TypeJob }
func (*Comment) Type() Type    { return TypeComment }
func (*Poll) Type() Type       { return TypePoll }
func (*PollOption) Type() Type { return TypePollOption }

func (*Story) sealed()      {}
func (*Job) sealed()        {}
func (*Comment) sealed()    {}
func (*Poll) sealed()       {}
func (*PollOption) sealed() {}

func (s *Story) Headline() string { return s.Title }
func (j *Job) Headline() string   { return j.Title }
func (s *Story) Points() int      { return s.Score }
func (j *Job) Points() int        { return j.Score }
func (*Story) root()              {}
func (*Job) root()                {}

// wire is the Hacker News JSON shape. Time is unix seconds on the wire.
type wire struct {
	ID          int64   `json:"id"`
	Type        Type    `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Text        string  `json:"text"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Kids        []int64 `json:"kids"`
	Parent      int64   `json:"parent"`
	Poll        int64   `json:"poll"`
	Parts       []int64 `json:"parts"`
}

// Decode parses one record as served by the Hacker News API.
func Decode(data []byte) (Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNotFound
	}

	var w wire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}

	base := Base{
		ID:      w.ID,
		By:      w.By,
		Deleted: w.Deleted,
		Dead:    w.Dead,
	}
	if w.Time > 0 {
		base.Time = time.Unix(w.Time, 0).UTC()
	}

	switch w.Type {
	case TypeStory:
		return &Story{Base: base, Title: w.Title, URL: w.URL, Text: w.Text, Score: w.Score, Descendants: w.Descendants, Kids: w.Kids}, nil
	case TypeJob:
		return &Job{Base: base, Title: w.Title, URL: w.URL, Text: w.Text, Score: w.Score}, nil
	case TypeComment:
		return &Comment{Base: base, Parent: w.Parent, Text: w.Text, Kids: w.Kids}, nil
	case TypePoll:
		return &Poll{Base: base, Title: w.Title, Text: w.Text, Score: w.Score, Descendants: w.Descendants, Parts: w.Parts, Kids: w.Kids}, nil
	case TypePollOption:
		return &PollOption{Base: base, Poll: w.Poll, Text: w.Text, Score: w.Score}, nil
	default:
		return nil, fmt.Errorf("%w: %q (id %d)", ErrUnknownType, w.Type, w.ID)
	}
}

// AsRoot returns it as a Root if it is a Story or a Job.
func AsRoot(it Item) (Root, bool) {
	r, ok := it.(Root)
	return r, ok
}
