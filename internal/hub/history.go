package hub

import (
	"sync"

	"taskpulse/internal/models"
)

// History is a bounded in-memory ring of recent comment events for one task
// room. It backs the latest-comment replay a member receives on join; the
// durable record lives in storage.
type History struct {
	records    []models.CommentEvent
	firstSeq   int64
	lastSeq    int64
	lastIndex  int
	maxRecords int

	mux sync.RWMutex
}

func NewHistory(maxRecords int) *History {
	return &History{
		maxRecords: maxRecords,
		lastIndex:  -1,
		firstSeq:   -1,
		lastSeq:    -1,
	}
}

// Add appends an event, overwriting the oldest one once the ring is full.
func (h *History) Add(ev models.CommentEvent) {
	h.mux.Lock()
	defer h.mux.Unlock()

	h.lastSeq++

	switch {
	case len(h.records) < h.maxRecords:
		if h.firstSeq == -1 {
			h.firstSeq = h.lastSeq
		}
		h.records = append(h.records, ev)
		h.lastIndex++
	default:
		h.firstSeq++
		i := (h.lastIndex + 1) % h.maxRecords
		h.records[i] = ev
		h.lastIndex = i
	}
}

// Recent returns up to count events, oldest first.
func (h *History) Recent(count int) []models.CommentEvent {
	h.mux.RLock()
	defer h.mux.RUnlock()

	if h.lastSeq == -1 {
		return []models.CommentEvent{}
	}

	total := int(h.lastSeq - h.firstSeq + 1)
	if count > total {
		count = total
	}

	from := h.lastSeq - int64(count) + 1

	head := 0
	if len(h.records) == h.maxRecords {
		head = (h.lastIndex + 1) % h.maxRecords
	}

	offset := int(from - h.firstSeq)
	startIdx := (head + offset) % len(h.records)

	result := make([]models.CommentEvent, count)
	if startIdx+count <= len(h.records) {
		copy(result, h.records[startIdx:startIdx+count])
	} else {
		n1 := len(h.records) - startIdx
		copy(result, h.records[startIdx:])
		copy(result[n1:], h.records[:count-n1])
	}

	return result
}
