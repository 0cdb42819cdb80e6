package core

import "pkt.systems/pipetail/schema"

// pendingBuffer holds lines received since the last flush. It is owned by
// a single controller run goroutine.
type pendingBuffer struct {
	lines []schema.LogLine
	seq   uint64
}

func (p *pendingBuffer) append(texts []string) {
	for _, text := range texts {
		p.seq++
		p.lines = append(p.lines, schema.LogLine{Seq: p.seq, Text: text})
	}
}

// take swaps the buffered lines out and leaves the buffer empty.
func (p *pendingBuffer) take() []schema.LogLine {
	if len(p.lines) == 0 {
		return nil
	}
	batch := p.lines
	p.lines = nil
	return batch
}

// reset drops buffered lines and restarts sequence numbering.
func (p *pendingBuffer) reset() {
	p.lines = nil
	p.seq = 0
}

func (p *pendingBuffer) len() int {
	return len(p.lines)
}
