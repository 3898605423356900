package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// extractRetries bounds re-probing of an ambiguous chunk tree.
const (
	extractRetries = 3
	extractBackoff = 25 * time.Millisecond
)

// Normalizer folds a stream of heterogeneous chunk objects into one
// assistant string. Chunks marked partial accumulate in a buffer; a
// non-partial chunk flushes the buffer plus its own text as one completed
// segment. It never invents text.
type Normalizer struct {
	partial  strings.Builder
	segments []string
	sleep    func(time.Duration)
}

// NewNormalizer returns a fresh per-stream normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{sleep: time.Sleep}
}

// Feed ingests one raw chunk. Ambiguous trees are re-probed up to three
// times with a short backoff before ErrExtraction.
func (n *Normalizer) Feed(raw []byte) error {
	var text string
	var partial, ok bool
	for attempt := 0; attempt < extractRetries; attempt++ {
		text, partial, ok = probe(raw)
		if ok {
			break
		}
		n.sleep(extractBackoff)
	}
	if !ok {
		return ErrExtraction
	}

	if partial {
		n.partial.WriteString(text)
		return nil
	}
	seg := n.partial.String() + text
	n.partial.Reset()
	n.segments = append(n.segments, seg)
	return nil
}

// FeedText ingests already-extracted text, used when the transport layer
// has pre-parsed the event envelope.
func (n *Normalizer) FeedText(text string, partial bool) {
	if partial {
		n.partial.WriteString(text)
		return
	}
	n.segments = append(n.segments, n.partial.String()+text)
	n.partial.Reset()
}

// Final flushes any dangling partial buffer and assembles the segments.
// If every successive segment extends its predecessor the runtime was
// streaming replacements, and only the longest survives; otherwise unique
// segments concatenate in arrival order. An assembled empty string becomes
// the user-facing empty-response sentinel.
func (n *Normalizer) Final() string {
	if n.partial.Len() > 0 {
		n.segments = append(n.segments, n.partial.String())
		n.partial.Reset()
	}

	var nonEmpty []string
	for _, s := range n.segments {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return EmptyResponseText
	}

	if isReplacementStream(nonEmpty) {
		return nonEmpty[len(nonEmpty)-1]
	}

	var b strings.Builder
	var prev string
	for _, s := range nonEmpty {
		if s == prev {
			continue // exact redelivery
		}
		b.WriteString(s)
		prev = s
	}
	return b.String()
}

// isReplacementStream reports whether each segment contains its
// predecessor, i.e. the runtime redelivered growing snapshots instead of
// deltas.
func isReplacementStream(segs []string) bool {
	if len(segs) < 2 {
		return false
	}
	for i := 1; i < len(segs); i++ {
		if !strings.Contains(segs[i], segs[i-1]) {
			return false
		}
	}
	return true
}

// probe extracts the text payload of one chunk by trying a prioritized
// list of shapes: content array with text parts, direct text attribute,
// delta with text, completion string, or a list of sub-chunks. The second
// return is the chunk's partial flag. ok=false means the tree matched no
// known shape.
func probe(raw []byte) (text string, partial, ok bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not JSON at all: treat the bytes as literal complete text.
		return string(raw), false, true
	}
	return probeValue(v)
}

func probeValue(v interface{}) (string, bool, bool) {
	switch node := v.(type) {
	case string:
		return node, false, true
	case []interface{}:
		// List of sub-chunks: concatenate in order.
		var b strings.Builder
		anyOK := false
		for _, item := range node {
			t, _, ok := probeValue(item)
			if ok {
				b.WriteString(t)
				anyOK = true
			}
		}
		return b.String(), false, anyOK
	case map[string]interface{}:
		partial := flagPartial(node)

		// 1. content array with text parts.
		if content, ok := node["content"].([]interface{}); ok {
			var b strings.Builder
			for _, part := range content {
				if m, ok := part.(map[string]interface{}); ok {
					if t, ok := m["text"].(string); ok {
						b.WriteString(t)
					}
				}
			}
			return b.String(), partial, true
		}
		// 2. direct text attribute.
		if t, ok := node["text"].(string); ok {
			return t, partial, true
		}
		// 3. delta with text.
		if delta, ok := node["delta"].(map[string]interface{}); ok {
			if t, ok := delta["text"].(string); ok {
				return t, partial, true
			}
		}
		// 4. completion string.
		if t, ok := node["completion"].(string); ok {
			return t, partial, true
		}
		// 5. wrapped list of sub-chunks.
		if chunks, ok := node["chunks"].([]interface{}); ok {
			t, _, ok := probeValue(chunks)
			return t, partial, ok
		}

		// Structural events with no text payload are empty, not ambiguous.
		if t, ok := node["type"].(string); ok {
			switch t {
			case "message_start", "message_stop", "message_delta",
				"content_block_start", "content_block_stop", "ping":
				return "", partial, true
			}
		}
		return "", false, false
	default:
		return "", false, false
	}
}

// flagPartial reads the chunk's partial marker: an explicit partial flag,
// or a content_block_delta event type.
func flagPartial(node map[string]interface{}) bool {
	if p, ok := node["partial"].(bool); ok {
		return p
	}
	if t, ok := node["type"].(string); ok && t == "content_block_delta" {
		return true
	}
	return false
}

// isCorruptedHistoryErr classifies runtime errors caused by a history the
// model can no longer replay (mixed content types in alternating turns).
func isCorruptedHistoryErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "mixed content") ||
		strings.Contains(msg, "content type mismatch") ||
		strings.Contains(msg, "invalid conversation history") ||
		(strings.Contains(msg, "tool_use") && strings.Contains(msg, "tool_result"))
}
