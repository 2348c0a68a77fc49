package pool

import (
	"fmt"

	"github.com/rsmw/feedloop/app/feed"
)

type Kind string

const (
	KindParseFeed    Kind = "parse_feed"
	KindCleanContent Kind = "clean_content"
)

// WorkItem is one unit of CPU-bound work. It crosses the isolation
// boundary as plain data: a tag, a byte payload, and value options, with no
// live references. Items are consumed exactly once and never persisted; a
// lost item is resubmitted by its origin.
type WorkItem struct {
	Kind    Kind
	Payload []byte
	Options Options
}

type Options struct {
	// SourceURL resolves relative links during content cleaning.
	SourceURL string
}

// Result carries the outcome for either work kind.
type Result struct {
	Metadata *feed.Metadata
	Items    []feed.Item
	Content  string
}

// Executor runs one kind of work. Executors are injected so the pool stays
// a pure isolation mechanism.
type Executor func(item WorkItem) (*Result, error)

// Executors builds the standard executor set.
func Executors(parser *feed.Parser, extractor *feed.ContentExtractor) map[Kind]Executor {
	return map[Kind]Executor{
		KindParseFeed: func(item WorkItem) (*Result, error) {
			metadata, items, err := parser.Run(item.Payload)
			if err != nil {
				return nil, err
			}
			return &Result{Metadata: metadata, Items: items}, nil
		},
		KindCleanContent: func(item WorkItem) (*Result, error) {
			content, err := extractor.Run(item.Payload, item.Options.SourceURL)
			if err != nil {
				return nil, err
			}
			return &Result{Content: content}, nil
		},
	}
}

func (i WorkItem) validate(executors map[Kind]Executor) error {
	if _, ok := executors[i.Kind]; !ok {
		return fmt.Errorf("unknown work kind: %q", string(i.Kind))
	}
	return nil
}
